package dispatch

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ytget/media-dispatch/internal/model"
	"github.com/ytget/media-dispatch/internal/platform"
)

// DefaultTimeout bounds a single backend request
const DefaultTimeout = 15 * time.Second

// Doer sends HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Settings supplies the active backend and session state
type Settings interface {
	ActiveProfile() model.BackendProfile
	GetCheckDownloadLink() bool
	Credentials() (cookie, authorization string)
}

// Dispatcher hands resolved items to the configured backend
type Dispatcher struct {
	settings Settings
	client   Doer
	dialer   *websocket.Dialer
	openURL  func(string) error
	now      func() time.Time
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithClient sets the HTTP client used for RPC backends
func WithClient(d Doer) Option {
	return func(x *Dispatcher) { x.client = d }
}

// WithDialer sets the websocket dialer used for ws:// aria2 endpoints
func WithDialer(d *websocket.Dialer) Option {
	return func(x *Dispatcher) { x.dialer = d }
}

// WithOpener replaces the function used by the direct backend
func WithOpener(open func(string) error) Option {
	return func(x *Dispatcher) { x.openURL = open }
}

// WithClock replaces the time source used for NowTime and downloadTime
func WithClock(now func() time.Time) Option {
	return func(x *Dispatcher) { x.now = now }
}

// New creates a dispatcher
func New(settings Settings, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		settings: settings,
		client:   &http.Client{Timeout: DefaultTimeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultTimeout,
		},
		openURL: platform.OpenURL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch checks the guards and sends item to the active backend. Guard
// failures return *AbortError, backend failures *BackendError. Nothing is
// retried.
func (d *Dispatcher) Dispatch(ctx context.Context, item *model.ResolvedItem) error {
	if err := CheckGuards(item, d.settings.GetCheckDownloadLink()); err != nil {
		log.Printf("[Dispatch] %v", err)
		return err
	}

	profile := d.settings.ActiveProfile()
	downloadURL, err := item.SelectURL()
	if err != nil {
		return &BackendError{Backend: profile.Kind, ID: item.ID, Err: err}
	}

	switch profile.Kind {
	case model.BackendDirect:
		err = d.openURL(downloadURL)
	case model.BackendAria2:
		err = d.sendAria2(ctx, profile, item, downloadURL)
	case model.BackendCompanion:
		err = d.sendCompanion(ctx, profile, item, downloadURL)
	default:
		err = fmt.Errorf("unsupported backend %q", profile.Kind)
	}
	if err != nil {
		berr := &BackendError{Backend: profile.Kind, ID: item.ID, Err: err}
		log.Printf("[Dispatch] %v", berr)
		return berr
	}

	log.Printf("[Dispatch] Sent %s (%s) to %s", item.ID, item.GetDisplayTitle(), profile.Kind)
	return nil
}
