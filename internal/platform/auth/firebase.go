package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/pawmart/api/internal/platform/config"
)

const envAuthEmulatorHost = "FIREBASE_AUTH_EMULATOR_HOST"

// FirebaseVerifier verifies customer ID tokens and loads user records through the Admin SDK.
type FirebaseVerifier struct {
	client  *firebaseauth.Client
	timeout time.Duration
}

// FirebaseOption customises FirebaseVerifier instances.
type FirebaseOption func(*firebaseSettings)

type firebaseSettings struct {
	timeout    time.Duration
	clientOpts []option.ClientOption
}

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(s *firebaseSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithFirebaseClientOptions appends Google API client options used when creating the app.
func WithFirebaseClientOptions(opts ...option.ClientOption) FirebaseOption {
	return func(s *firebaseSettings) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

// NewFirebaseVerifier initialises the Admin SDK for the configured project. When the auth emulator is in use
// credentials are not loaded.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	settings := firebaseSettings{timeout: defaultTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	clientOpts := append([]option.ClientOption(nil), settings.clientOpts...)
	switch {
	case strings.TrimSpace(os.Getenv(envAuthEmulatorHost)) != "":
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	return &FirebaseVerifier{client: authClient, timeout: settings.timeout}, nil
}

// VerifyIDToken forwards verification to the underlying Firebase client using a bounded context.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("firebase verifier not initialised")
	}
	ctx, cancel := v.bounded(ctx)
	defer cancel()
	return v.client.VerifyIDToken(ctx, idToken)
}

// GetUser loads a Firebase user record for the given UID.
func (v *FirebaseVerifier) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("firebase verifier not initialised")
	}
	ctx, cancel := v.bounded(ctx)
	defer cancel()
	return v.client.GetUser(ctx, uid)
}

func (v *FirebaseVerifier) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, v.timeout)
}
