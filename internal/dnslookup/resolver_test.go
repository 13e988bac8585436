package dnslookup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult_HasMailHosts(t *testing.T) {
	assert.True(t, Result{MailHosts: []string{"mx1.example.test"}}.HasMailHosts())
	assert.False(t, Result{}.HasMailHosts())
}

func TestResult_PrimaryMailHost(t *testing.T) {
	r := Result{MailHosts: []string{"mx1.example.test", "mx2.example.test"}}
	assert.Equal(t, "mx1.example.test", r.PrimaryMailHost())

	assert.Equal(t, "", Result{}.PrimaryMailHost())
}

func TestNew_ReturnsUsableResolver(t *testing.T) {
	var resolver Resolver = New()
	assert.NotNil(t, resolver)
}
