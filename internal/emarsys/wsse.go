package emarsys

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const createdLayout = "2006-01-02T15:04:05+00:00"

// wsseHeader builds the X-WSSE UsernameToken the API authenticates with.
func wsseHeader(username, secret, nonce string, created time.Time) string {
	createdAt := created.UTC().Format(createdLayout)
	sum := sha1.Sum([]byte(nonce + createdAt + secret))
	digest := base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(sum[:])))

	return fmt.Sprintf(`UsernameToken Username="%s", PasswordDigest="%s", Nonce="%s", Created="%s"`,
		username, digest, nonce, createdAt)
}

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
