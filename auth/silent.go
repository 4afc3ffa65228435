package auth

// Silent SSO: on first arrival, invisibly redirect through the IdP so an
// existing cross-brand session is picked up without user interaction. The
// attempt is strictly one-shot per browser tab — re-running it on every
// client-side navigation would loop forever for signed-out users, because
// the IdP bounces back with sso_login_required rather than a code.

const keyAttempted = "sso_attempted"

// SilentSSO decides whether to auto-trigger a login attempt on page load.
// The one-shot flag lives in the injected flags store (tab-scoped), so the
// transition NotAttempted -> Attempted outlives the component that made it.
type SilentSSO struct {
	client       *Client
	flags        KV
	callbackPath string
	signupPath   string
}

// NewSilentSSO builds the orchestrator. callbackPath and signupPath are the
// routes that must never trigger an attempt: intercepting the flow's own
// callback would eat the authorization code, and bouncing a user off the
// signup page they deliberately opened would strand them.
func NewSilentSSO(client *Client, flags KV, callbackPath, signupPath string) *SilentSSO {
	return &SilentSSO{
		client:       client,
		flags:        flags,
		callbackPath: callbackPath,
		signupPath:   signupPath,
	}
}

// Attempted reports whether this tab already ran its attempt.
func (s *SilentSSO) Attempted() bool {
	return s.flags.Get(keyAttempted) != ""
}

// ShouldAttempt evaluates the guards for the given request path. All must
// clear: no token yet, not the callback route, not the signup route, not
// already attempted.
func (s *SilentSSO) ShouldAttempt(path string) bool {
	if s.client.Token() != "" {
		return false
	}
	if path == s.callbackPath || path == s.signupPath {
		return false
	}
	if s.Attempted() {
		return false
	}
	return true
}

// Attempt runs the silent login for a page load of pathAndQuery. When the
// guards clear it marks the flag first, then initiates the flow with a
// redirect URI that brings the user back to where they started. The
// returned URL is the IdP authorize endpoint; ok=false means a guard held
// and no attempt was made.
func (s *SilentSSO) Attempt(path, pathAndQuery string) (authorizeURL string, ok bool, err error) {
	if !s.ShouldAttempt(path) {
		return "", false, nil
	}

	// Flag before navigating: the redirect unloads this page, and a failed
	// attempt must not be retried on the way back.
	s.flags.Set(keyAttempted, "1")

	authorizeURL, err = s.client.BeginLogin(LoginOptions{
		BrandID:     s.client.Brand(),
		RedirectURI: CallbackRedirectURI(s.client.cfg.Origin, pathAndQuery),
	})
	if err != nil {
		return "", false, err
	}
	return authorizeURL, true, nil
}
