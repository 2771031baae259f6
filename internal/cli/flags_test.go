package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlags_ToConfigFlags(t *testing.T) {
	t.Run("unset booleans keep config values", func(t *testing.T) {
		f := Flags{Filter: "*Wall*", Timeout: 30}
		cf := f.ToConfigFlags()
		assert.Equal(t, "*Wall*", cf.Filter)
		assert.Equal(t, 30, cf.Timeout)
		assert.Nil(t, cf.Continuous)
		assert.Nil(t, cf.GroupByModel)
	})

	t.Run("explicit booleans are carried", func(t *testing.T) {
		f := Flags{Continuous: false, ContinuousSet: true, GroupByModel: false, GroupByModelSet: true}
		cf := f.ToConfigFlags()
		require.NotNil(t, cf.Continuous)
		require.NotNil(t, cf.GroupByModel)
		assert.False(t, *cf.Continuous)
		assert.False(t, *cf.GroupByModel)
	})
}
