package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/engine"
)

const arpFixture = `IP address       HW type     Flags       HW address            Mask     Device
10.0.0.2         0x1         0x2         AA:BB:CC:DD:EE:FF     *        br-lan
10.0.0.3         0x1         0x0         00:00:00:00:00:00     *        br-lan
`

func withARPFixture(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arp")
	require.NoError(t, os.WriteFile(path, []byte(arpFixture), 0o644))
	orig := arpTablePath
	arpTablePath = path
	t.Cleanup(func() { arpTablePath = orig })
}

func resolveIdentity(t *testing.T, remoteIP string) engine.Identity {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteIP + ":54321"
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got engine.Identity
	h := ClientIdentity(zerolog.Nop())(func(c echo.Context) error {
		got = ClientFrom(c)
		return nil
	})
	require.NoError(t, h(c))
	return got
}

func TestClientIdentityFromARP(t *testing.T) {
	withARPFixture(t)

	id := resolveIdentity(t, "10.0.0.2")
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", id.MAC)
	assert.Equal(t, "10.0.0.2", id.IP)
}

func TestIncompleteARPEntryFallsBack(t *testing.T) {
	withARPFixture(t)

	id := resolveIdentity(t, "10.0.0.3")
	assert.NotEqual(t, "00:00:00:00:00:00", id.MAC)
	assert.NotEmpty(t, id.MAC)
}

func TestPseudoMACIsStable(t *testing.T) {
	withARPFixture(t)

	first := resolveIdentity(t, "10.0.0.99")
	second := resolveIdentity(t, "10.0.0.99")
	other := resolveIdentity(t, "10.0.0.100")

	assert.Equal(t, first.MAC, second.MAC, "same IP must map to the same session key")
	assert.NotEqual(t, first.MAC, other.MAC)
	assert.Len(t, first.MAC, 17)
}
