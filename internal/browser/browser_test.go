package browser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("http://ryvie.local:3000"))
	assert.NoError(t, Validate("https://app.example"))

	assert.Error(t, Validate("file:///etc/passwd"))
	assert.Error(t, Validate("javascript:alert(1)"))
	assert.Error(t, Validate("ryvie.local:3000"))
	assert.Error(t, Validate("http://"))
	assert.Error(t, Validate("://bad"))
}

func TestCommand(t *testing.T) {
	name, args := command("darwin", "https://a.example")
	assert.Equal(t, "open", name)
	assert.Equal(t, []string{"https://a.example"}, args)

	name, args = command("windows", "https://a.example")
	assert.Equal(t, "rundll32", name)
	assert.Equal(t, []string{"url.dll,FileProtocolHandler", "https://a.example"}, args)

	name, _ = command("linux", "https://a.example")
	assert.Equal(t, "xdg-open", name)
}

func TestSystemRejectsBadScheme(t *testing.T) {
	assert.Error(t, System{}.Open(context.Background(), "ftp://ryvie.local"))
}

func TestOpenerFunc(t *testing.T) {
	var got string
	o := OpenerFunc(func(_ context.Context, u string) error {
		got = u
		return nil
	})
	assert.NoError(t, o.Open(context.Background(), "https://a.example"))
	assert.Equal(t, "https://a.example", got)
}
