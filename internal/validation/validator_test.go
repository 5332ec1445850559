package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signup struct {
	Username        string `json:"username" validate:"required,min=3,max=50"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6,max=100"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

func TestValidatePasses(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	err = v.Validate(signup{
		Username:        "alice",
		Email:           "alice@example.com",
		Password:        "correctpw123",
		ConfirmPassword: "correctpw123",
	})
	assert.NoError(t, err)
}

func TestValidateReportsJSONFieldNames(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	err = v.Validate(signup{
		Username:        "al",
		Email:           "not-an-email",
		Password:        "123",
		ConfirmPassword: "456",
	})
	require.Error(t, err)

	var fieldErrs Errors
	require.True(t, errors.As(err, &fieldErrs))
	assert.Equal(t, []string{"confirmPassword", "email", "password", "username"}, fieldErrs.Fields())
	for _, field := range fieldErrs.Fields() {
		assert.NotEmpty(t, fieldErrs[field])
	}
}

func TestValidateUsernameBounds(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	long := make([]byte, 51)
	for i := range long {
		long[i] = 'a'
	}

	for _, name := range []string{"", "ab", string(long)} {
		err := v.Validate(signup{
			Username:        name,
			Email:           "alice@example.com",
			Password:        "correctpw123",
			ConfirmPassword: "correctpw123",
		})
		var fieldErrs Errors
		require.True(t, errors.As(err, &fieldErrs), "username %q", name)
		assert.Contains(t, fieldErrs, "username")
		assert.Len(t, fieldErrs, 1)
	}
}

func TestErrorsMessage(t *testing.T) {
	assert.Equal(t, "validation failed", Errors{}.Error())
	assert.Equal(t, `validation failed: {"email":"bad"}`, Errors{"email": "bad"}.Error())
}

type secret struct {
	Password string `json:"password" validate:"required,notblank,min=6"`
}

func TestValidateRejectsBlankStrings(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	err = v.Validate(secret{Password: "      "})
	var fieldErrs Errors
	require.True(t, errors.As(err, &fieldErrs))
	assert.Contains(t, fieldErrs, "password")

	assert.NoError(t, v.Validate(secret{Password: " pass word "}))
}
