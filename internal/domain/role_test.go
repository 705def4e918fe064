package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	for _, input := range []string{"regular", "VIP", " admin "} {
		role, err := ParseRole(input)
		assert.NoError(t, err, input)
		assert.Contains(t, Roles(), role)
	}

	_, err := ParseRole("superuser")
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = ParseRole("")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestPolicyTable(t *testing.T) {
	t.Run("内置配额", func(t *testing.T) {
		table := DefaultPolicies()
		assert.Equal(t, RolePolicy{MaxLeases: 3, LeaseDuration: time.Hour}, table.Resolve(RoleRegular))
		assert.Equal(t, RolePolicy{MaxLeases: 10, LeaseDuration: 168 * time.Hour}, table.Resolve(RoleVIP))
		assert.Equal(t, RolePolicy{MaxLeases: 1000, LeaseDuration: 4320 * time.Hour}, table.Resolve(RoleAdmin))
	})

	t.Run("未知角色回退到regular", func(t *testing.T) {
		table := DefaultPolicies()
		assert.Equal(t, table.Resolve(RoleRegular), table.Resolve(Role("ghost")))
	})

	t.Run("构造后不受外部映射修改影响", func(t *testing.T) {
		source := map[Role]RolePolicy{
			RoleRegular: {MaxLeases: 1, LeaseDuration: time.Minute},
		}
		table := NewPolicyTable(source)
		source[RoleRegular] = RolePolicy{MaxLeases: 99, LeaseDuration: time.Hour}

		assert.Equal(t, 1, table.Resolve(RoleRegular).MaxLeases)
	})

	t.Run("缺少regular时使用内置值", func(t *testing.T) {
		table := NewPolicyTable(map[Role]RolePolicy{RoleVIP: {MaxLeases: 5, LeaseDuration: time.Hour}})
		assert.Equal(t, 3, table.Resolve(Role("unknown")).MaxLeases)
		assert.Equal(t, 5, table.Resolve(RoleVIP).MaxLeases)
	})
}
