package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-retryablehttp"
)

// bearerAuth attaches the access token to requests. The signature is the backend's
// business; the client only reads the expiry so it doesn't send a token that is known to be stale.
type bearerAuth struct {
	token  string
	expiry time.Time
	logger log.Logger
	now    func() time.Time

	warnOnce sync.Once
}

func newBearerAuth(token string, logger log.Logger) *bearerAuth {
	a := &bearerAuth{
		token:  token,
		logger: logger,
		now:    time.Now,
	}
	if token == "" {
		return a
	}

	expiry, err := tokenExpiry(token)
	if err != nil {
		logger.Debugf("Access token is not a readable JWT, sending it as is: %s", err)
		return a
	}
	a.expiry = expiry

	return a
}

func (a *bearerAuth) authorize(req *retryablehttp.Request) {
	if a.token == "" {
		return
	}
	if !a.expiry.IsZero() && !a.now().Before(a.expiry) {
		a.warnOnce.Do(func() {
			a.logger.Warnf("Access token expired at %s, sending requests without it", a.expiry.Format(time.RFC3339))
		})
		return
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", a.token))
}

func tokenExpiry(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, err
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
