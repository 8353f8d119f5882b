package was

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Method_Valid(t *testing.T) {
	assert.False(t, MethodNull.Valid())
	assert.True(t, MethodGet.Valid())
	assert.True(t, MethodPatch.Valid())
	assert.False(t, methodInvalid.Valid())
	assert.False(t, Method(9999).Valid())
}

func Test_Method_String(t *testing.T) {
	assert.Equal(t, "GET", MethodGet.String())
	assert.Equal(t, "PROPFIND", MethodPropfind.String())
	assert.Equal(t, "METHOD(9999)", Method(9999).String())
}

func Test_Command_String(t *testing.T) {
	assert.Equal(t, "REQUEST", CommandRequest.String())
	assert.Equal(t, "PREMATURE", CommandPremature.String())
	assert.Equal(t, "CMD(4711)", Command(4711).String())
}
