package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginPolicyExplicitList(t *testing.T) {
	p := NewOriginPolicy([]string{"https://app.example/"}, []string{"ignored.example"}, true)

	assert.True(t, p.Allowed(""))
	assert.True(t, p.Allowed("https://app.example"))
	assert.True(t, p.Allowed("HTTPS://APP.EXAMPLE"))
	assert.False(t, p.Allowed("http://app.example"))
	assert.False(t, p.Allowed("https://ignored.example"))
	assert.False(t, p.Allowed("http://localhost:3000"))
	assert.False(t, p.Allowed("null"))
}

func TestOriginPolicyDerivedFromHosts(t *testing.T) {
	p := NewOriginPolicy(nil, []string{"rent.example", ".cdn.example", "api.example:8443"}, true)

	assert.True(t, p.Allowed("https://rent.example"))
	assert.True(t, p.Allowed("http://rent.example"))
	assert.True(t, p.Allowed("https://static.cdn.example"))
	assert.True(t, p.Allowed("https://cdn.example"))
	assert.True(t, p.Allowed("https://api.example:8443"))
	assert.False(t, p.Allowed("https://evilrent.example"))
	assert.False(t, p.Allowed("ftp://rent.example"))
}

func TestOriginPolicyDevelopmentHosts(t *testing.T) {
	p := NewOriginPolicy(nil, nil, false)

	assert.True(t, p.Allowed("http://localhost:3000"))
	assert.True(t, p.Allowed("http://127.0.0.1:8080"))
	assert.False(t, p.Allowed("https://example.com"))
}
