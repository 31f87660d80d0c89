// Command hsmcopytool is the HSM copy agent: a daemon mode that services a
// coordinator's archive/restore/remove requests plus three one-shot admin
// modes (import, rebind, max-sequence) built on the same archive layout.
package main

func main() {
	Execute()
}
