package util

import (
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/syslink/ipc/common"
	"github.com/ValentinKolb/syslink/ipc/sharedregion"
	"github.com/ValentinKolb/syslink/rcm/client"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseRegionSpec tests the region flag format
func TestParseRegionSpec(t *testing.T) {
	spec, err := ParseRegionSpec("2=dsp:0x1000:cached:heap")
	require.NoError(t, err)
	assert.Equal(t, common.RegionSpec{ID: 2, Name: "dsp", Size: 0x1000, CacheEnable: true, CreateHeap: true}, spec)

	spec, err = ParseRegionSpec(" 0=host:4096 ")
	require.NoError(t, err)
	assert.Equal(t, common.RegionSpec{ID: 0, Name: "host", Size: 4096}, spec)

	for _, s := range []string{"", "host:4096", "x=host:4096", "0=:4096", "0=host", "0=host:0", "0=host:big", "0=host:16:fast", "70000=host:16"} {
		_, err := ParseRegionSpec(s)
		assert.Error(t, err, s)
	}
}

// TestGetRegionConfig tests reading the table configuration from viper
func TestGetRegionConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("entries", 4)
	viper.Set("cache-line", 64)
	viper.Set("translate", true)
	viper.Set("region", []string{"0=a:4096:heap", "3=b:8192"})

	conf, err := GetRegionConfig()
	require.NoError(t, err)
	assert.Equal(t, uint16(4), conf.NumEntries)
	assert.Equal(t, uint32(64), conf.CacheLineSize)
	require.Len(t, conf.Regions, 2)
	assert.Equal(t, "b", conf.Regions[1].Name)
	assert.Contains(t, conf.String(), "Cache Line Size")

	viper.Set("region", []string{"4=a:4096"})
	_, err = GetRegionConfig()
	assert.Error(t, err, "out of range")

	viper.Set("region", []string{"1=a:4096", "1=b:4096"})
	_, err = GetRegionConfig()
	assert.Error(t, err, "duplicate id")
}

// TestClientParams tests the conversion of the client configuration
func TestClientParams(t *testing.T) {
	params := ClientParams(&common.ClientConfig{HeapID: 2})
	assert.Equal(t, uint16(2), params.HeapID)
	assert.Equal(t, client.DefaultParams().OpenRetryInterval, params.OpenRetryInterval)
	assert.Zero(t, params.OpenRetries)

	params = ClientParams(&common.ClientConfig{HeapID: 0xFFFF, OpenRetries: 3, OpenRetryInterval: time.Second})
	assert.Equal(t, uint64(3), params.OpenRetries)
	assert.Equal(t, time.Second, params.OpenRetryInterval)
}

// TestOpenTable tests a table backed by shared memory segments
func TestOpenTable(t *testing.T) {
	conf := &common.RegionConfig{
		NumEntries:    4,
		CacheLineSize: 128,
		Translate:     true,
		Regions: []common.RegionSpec{
			{ID: 0, Name: fmt.Sprintf("test-%d-0", time.Now().UnixNano()), Size: 64 * 1024, CreateHeap: true},
			{ID: 1, Name: fmt.Sprintf("test-%d-1", time.Now().UnixNano()), Size: 4096},
		},
	}

	table, err := OpenTable(conf)
	require.NoError(t, err)

	for _, spec := range conf.Regions {
		info, err := table.GetRegionInfo(spec.ID)
		require.NoError(t, err)
		assert.True(t, info.Entry.IsValid)
		assert.Equal(t, spec.Size, info.Entry.Len)

		// write through the segment and translate the address
		addr := info.Entry.Base + 100
		p := table.GetSRPtr(addr, spec.ID)
		require.True(t, p.IsValid())
		assert.Equal(t, addr, table.GetPtr(p))
		assert.Equal(t, spec.ID, table.GetID(addr))
	}

	h, err := table.GetHeap(0)
	require.NoError(t, err)
	block, err := h.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, h.Free(block))

	_, err = table.GetHeap(1)
	assert.ErrorIs(t, err, sharedregion.ErrMemory)

	require.NoError(t, table.Close())
	assert.Equal(t, uint16(0), table.GetNumRegions())
}

// TestOpenTableRollback tests that a failing table setup releases the segments
func TestOpenTableRollback(t *testing.T) {
	conf := &common.RegionConfig{
		NumEntries:    2,
		CacheLineSize: 128,
		Translate:     true,
		// region 0 missing, Start fails
		Regions: []common.RegionSpec{
			{ID: 1, Name: fmt.Sprintf("rollback-%d", time.Now().UnixNano()), Size: 4096},
		},
	}

	_, err := OpenTable(conf)
	assert.Error(t, err)
}
