package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/dsign/internal/fileset"
)

func TestNewPolicyEnforcer(t *testing.T) {
	t.Parallel()

	t.Run("creates_enforcer_with_nil_config", func(t *testing.T) {
		t.Parallel()
		enforcer := NewPolicyEnforcer(nil, nil)
		require.NotNil(t, enforcer)
		assert.Equal(t, []string{".clickonce"}, enforcer.RejectedExtensions())
	})

	t.Run("appends_configured_rules_after_defaults", func(t *testing.T) {
		t.Parallel()
		enforcer := NewPolicyEnforcer(&PolicyConfig{
			RejectedExtensions: []ExtensionRule{
				{Extension: "APPX", Reason: "use msix"},
				{Extension: ".vsix"},
				{Extension: "  "},
			},
		}, nil)
		assert.Equal(t, []string{".clickonce", ".appx", ".vsix"}, enforcer.RejectedExtensions())
	})

	t.Run("configured_rule_overrides_reason_without_duplicating", func(t *testing.T) {
		t.Parallel()
		enforcer := NewPolicyEnforcer(&PolicyConfig{
			RejectedExtensions: []ExtensionRule{{Extension: ".clickonce", Reason: "custom"}},
		}, nil)
		assert.Equal(t, []string{".clickonce"}, enforcer.RejectedExtensions())
		assert.Equal(t, "custom", enforcer.Check("a.clickonce").Reason)
	})
}

func TestPolicyEnforcer_Check(t *testing.T) {
	t.Parallel()

	enforcer := NewPolicyEnforcer(&PolicyConfig{
		RejectedExtensions: []ExtensionRule{{Extension: ".appx", Reason: "use msix"}},
	}, nil)

	tests := []struct {
		path     string
		accepted bool
		reason   string
	}{
		{"/work/app.exe", true, ""},
		{"/work/setup.msi", true, ""},
		{"/work/legacy.clickonce", false, ClickOnceGuidance},
		{"/work/LEGACY.ClickOnce", false, ClickOnceGuidance},
		{"/work/pkg.appx", false, "use msix"},
		{"/work/clickonce.exe", true, ""},
	}

	for _, tt := range tests {
		verdict := enforcer.Check(tt.path)
		assert.Equal(t, tt.accepted, verdict.Accepted, tt.path)
		assert.Equal(t, tt.reason, verdict.Reason, tt.path)
	}
}

func TestPolicyEnforcer_DefaultReason(t *testing.T) {
	t.Parallel()

	enforcer := NewPolicyEnforcer(&PolicyConfig{
		RejectedExtensions: []ExtensionRule{{Extension: "vsix"}},
	}, nil)

	verdict := enforcer.Check("ext.vsix")
	assert.False(t, verdict.Accepted)
	assert.Contains(t, verdict.Reason, ".vsix files are blocked by policy")
}

func TestPolicyEnforcer_AllowedExtensions(t *testing.T) {
	t.Parallel()

	enforcer := NewPolicyEnforcer(&PolicyConfig{
		AllowedExtensions: []string{"exe", ".DLL"},
	}, nil)

	assert.True(t, enforcer.Check("a.exe").Accepted)
	assert.True(t, enforcer.Check("b.dll").Accepted)

	verdict := enforcer.Check("c.msi")
	assert.False(t, verdict.Accepted)
	assert.Contains(t, verdict.Reason, "allowed_extensions")

	// Rejections still win over the allow list
	assert.False(t, NewPolicyEnforcer(&PolicyConfig{AllowedExtensions: []string{".clickonce"}}, nil).Check("x.clickonce").Accepted)
}

func TestPolicyEnforcer_Validate(t *testing.T) {
	t.Parallel()

	enforcer := NewPolicyEnforcer(nil, nil)

	t.Run("accepts_clean_set", func(t *testing.T) {
		t.Parallel()
		set := fileset.NewSet("/w/a.exe", "/w/b.dll")
		got, err := enforcer.Validate(set)
		require.NoError(t, err)
		assert.Same(t, set, got)
	})

	for _, position := range []int{0, 1, 2} {
		position := position
		t.Run("rejects_at_any_position", func(t *testing.T) {
			t.Parallel()

			paths := []string{"/w/a.exe", "/w/b.exe", "/w/c.exe"}
			paths[position] = "/w/bad.clickonce"

			got, err := enforcer.Validate(fileset.NewSet(paths...))
			require.Error(t, err)
			assert.Nil(t, got, "no partial set is passed on")

			var valErr *ValidationError
			require.True(t, errors.As(err, &valErr))
			assert.Equal(t, "/w/bad.clickonce", valErr.Path)
			assert.Equal(t, ClickOnceGuidance, valErr.Reason)
		})
	}

	t.Run("reports_first_rejected_file", func(t *testing.T) {
		t.Parallel()
		_, err := enforcer.Validate(fileset.NewSet("/w/one.clickonce", "/w/two.clickonce"))

		var valErr *ValidationError
		require.True(t, errors.As(err, &valErr))
		assert.Equal(t, "/w/one.clickonce", valErr.Path)
	})

	t.Run("accepts_empty_set", func(t *testing.T) {
		t.Parallel()
		got, err := enforcer.Validate(fileset.NewSet())
		require.NoError(t, err)
		assert.True(t, got.Empty())
	})
}

func TestPolicyEnforcer_CheckSpecs(t *testing.T) {
	t.Parallel()

	enforcer := NewPolicyEnforcer(nil, nil)

	assert.NoError(t, enforcer.CheckSpecs([]string{"*.exe", "bin/**/*.dll"}))

	err := enforcer.CheckSpecs([]string{"a.exe", "*.CLICKONCE"})
	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, "*.CLICKONCE", valErr.Path)

	// Allow lists are not applied to patterns
	allowOnly := NewPolicyEnforcer(&PolicyConfig{AllowedExtensions: []string{".exe"}}, nil)
	assert.NoError(t, allowOnly.CheckSpecs([]string{"**/*"}))
}

func TestValidationErrorMessages(t *testing.T) {
	t.Parallel()

	err := &ValidationError{Path: "/w/x.clickonce", Reason: ClickOnceGuidance}
	assert.Contains(t, err.Error(), "/w/x.clickonce")
	assert.Contains(t, err.Error(), ".application")

	userErr := err.UserError()
	assert.Contains(t, userErr.Error(), "Refusing to sign /w/x.clickonce")
	assert.ErrorIs(t, userErr, err)
}
