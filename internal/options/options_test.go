package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultIsUsable(t *testing.T) {
	opt := Default()
	assert.True(t, opt.CopyAttrs)
	assert.True(t, opt.CopyXattrs)
	assert.True(t, opt.ShadowTree)
	assert.EqualValues(t, DefaultChunkSize, opt.ChunkSize)
	assert.EqualValues(t, DefaultReportInterval, opt.ReportInterval)
	assert.Equal(t, 0, opt.MaxWorkers)
}

func TestMaxArchiveCountConstant(t *testing.T) {
	assert.Equal(t, 32, MaxArchiveCount)
}
