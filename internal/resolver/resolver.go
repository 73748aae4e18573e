package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ytget/media-dispatch/internal/model"
	"github.com/ytget/media-dispatch/internal/platform"
)

// DefaultTimeout bounds a single metadata or manifest request
const DefaultTimeout = 30 * time.Second

// maxBodySize caps the response bodies read by the resolver
const maxBodySize = 4 << 20

// Doer sends HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Settings supplies the values the resolver reads on every call
type Settings interface {
	GetAPIBase() string
	GetVersionSalt() string
	Credentials() (cookie, authorization string)
}

// Resolver fetches metadata and asset manifests
type Resolver struct {
	settings    Settings
	local       Doer
	crossOrigin Doer
}

// Option configures a Resolver
type Option func(*Resolver)

// WithClient sets the client used for same-origin requests
func WithClient(d Doer) Option {
	return func(r *Resolver) { r.local = d }
}

// WithCrossOriginClient sets the client used for manifests on another origin
func WithCrossOriginClient(d Doer) Option {
	return func(r *Resolver) { r.crossOrigin = d }
}

// New creates a resolver. Without options both origins share one client.
func New(settings Settings, opts ...Option) *Resolver {
	r := &Resolver{settings: settings}
	for _, opt := range opts {
		opt(r)
	}
	if r.local == nil {
		r.local = &http.Client{Timeout: DefaultTimeout}
	}
	if r.crossOrigin == nil {
		r.crossOrigin = r.local
	}
	return r
}

type videoResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	User  struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
	Tags      []struct {
		ID string `json:"id"`
	} `json:"tags"`
	Private  bool   `json:"private"`
	EmbedURL string `json:"embedUrl"`
	FileURL  string `json:"fileUrl"`
	Body     string `json:"body"`
}

type manifestEntry struct {
	Name string `json:"name"`
	Src  struct {
		View     string `json:"view"`
		Download string `json:"download"`
	} `json:"src"`
}

// Resolve runs the full state machine for id. The returned item is never nil;
// on failure it is in the Failed state and the error is a *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, id string) (*model.ResolvedItem, error) {
	item := model.NewResolvedItem(id)
	apiBase := strings.TrimRight(r.settings.GetAPIBase(), "/")

	_ = item.Transition(model.ItemStateFetchingMetadata)
	metaURL := apiBase + "/video/" + url.PathEscape(id)
	var meta videoResponse
	if err := r.getJSON(ctx, r.local, metaURL, &meta); err != nil {
		return r.fail(item, StageMetadata, err)
	}
	if meta.ID == "" {
		return r.fail(item, StageMetadata, errors.New("response has no id"))
	}

	_ = item.Transition(model.ItemStateValidating)
	item.Title = platform.SanitizeFileName(meta.Title)
	author := meta.User.Name
	if author == "" {
		author = meta.User.Username
	}
	item.Author = platform.SanitizeFileName(author)
	item.CreatedAt = meta.CreatedAt
	item.Private = meta.Private
	item.Description = meta.Body
	for _, tag := range meta.Tags {
		if tag.ID != "" {
			item.Tags = append(item.Tags, tag.ID)
		}
	}
	if meta.EmbedURL != "" {
		item.External = true
		return r.fail(item, StageValidate, ErrExternal)
	}
	if meta.FileURL == "" {
		return r.fail(item, StageValidate, errors.New("response has no file url"))
	}

	_ = item.Transition(model.ItemStateFetchingAssets)
	fileURL, err := absoluteURL(apiBase, meta.FileURL)
	if err != nil {
		return r.fail(item, StageAssets, err)
	}
	client := r.local
	if !sameOrigin(apiBase, fileURL) {
		client = r.crossOrigin
	}

	var manifest []manifestEntry
	if err := r.getJSON(ctx, client, fileURL, &manifest); err != nil {
		return r.fail(item, StageAssets, err)
	}
	for _, entry := range manifest {
		src := entry.Src.Download
		if src == "" {
			src = entry.Src.View
		}
		if entry.Name == "" || src == "" {
			continue
		}
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		item.Variants = append(item.Variants, model.Variant{Label: entry.Name, URL: src})
	}
	if len(item.Variants) == 0 {
		return r.fail(item, StageAssets, ErrEmptyManifest)
	}

	_ = item.Transition(model.ItemStateReady)
	log.Printf("[Resolver] Resolved %s (%s), %d variants, best %s", id, item.GetDisplayTitle(), len(item.Variants), item.SelectQuality())
	return item, nil
}

func (r *Resolver) fail(item *model.ResolvedItem, stage Stage, err error) (*model.ResolvedItem, error) {
	_ = item.Transition(model.ItemStateFailed)
	rerr := &ResolutionError{ID: item.ID, Stage: stage, Err: err}
	log.Printf("[Resolver] %v", rerr)
	return item, rerr
}

// newRequest builds a signed GET for target
func (r *Resolver) newRequest(ctx context.Context, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	version, err := Sign(target, r.settings.GetVersionSalt())
	if err != nil {
		return nil, err
	}

	cookie, authorization := r.settings.Credentials()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderVersion, version)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return req, nil
}

func (r *Resolver) getJSON(ctx context.Context, client Doer, target string, dst any) error {
	req, err := r.newRequest(ctx, target)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s: unexpected status %d", target, resp.StatusCode)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}

func absoluteURL(base, ref string) (string, error) {
	if strings.HasPrefix(ref, "//") {
		ref = "https:" + ref
	}
	baseURL, err := url.Parse(base + "/")
	if err != nil {
		return "", fmt.Errorf("parse api base: %w", err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse file url: %w", err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) && strings.EqualFold(ua.Host, ub.Host)
}
