package maybe

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaybe(t *testing.T) {
	t.Run("Some", func(t *testing.T) {
		m := Some(4.5)
		assert.True(t, m.IsValid())
		assert.Equal(t, 4.5, m.Value())
		assert.Equal(t, 4.5, m.ValueOrDefault(1))
	})

	t.Run("None", func(t *testing.T) {
		m := None[float64]()
		assert.False(t, m.IsValid())
		assert.Equal(t, 0.0, m.Value())
		assert.Equal(t, 1.0, m.ValueOrDefault(1))
	})

	t.Run("Zero value is absent", func(t *testing.T) {
		var m Maybe[string]
		assert.False(t, m.IsValid())
	})

	t.Run("SqlNull", func(t *testing.T) {
		valid := sql.NullFloat64{Float64: 7.25, Valid: true}
		assert.Equal(t, Some(7.25), SqlNull(valid.Float64, valid.Valid))

		null := sql.NullFloat64{Float64: 3, Valid: false}
		m := SqlNull(null.Float64, null.Valid)
		assert.False(t, m.IsValid())
		assert.Equal(t, 0.0, m.Value(), "a null column carries no value")
	})
}
