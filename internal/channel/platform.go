package channel

import (
	"context"
	"fmt"

	"autoreply/internal/domain"
)

// PlatformSpec holds everything that differs between the Graph API platforms.
// Connectors share one state machine and are parameterized by a spec.
type PlatformSpec struct {
	Platform        domain.Platform
	SignatureHeader string
	Algorithm       Algorithm

	classify classifier
	send     func(ctx context.Context, g *GraphClient, creds Credentials, to, text string) (*domain.SendReceipt, error)
}

// Credentials are the per-platform secrets.
type Credentials struct {
	AppSecret     string
	VerifyToken   string
	AccessToken   string
	PhoneNumberID string // WhatsApp only
}

func messengerSend(p domain.Platform) func(context.Context, *GraphClient, Credentials, string, string) (*domain.SendReceipt, error) {
	return func(ctx context.Context, g *GraphClient, c Credentials, to, text string) (*domain.SendReceipt, error) {
		return g.SendMessenger(ctx, p, c.AccessToken, to, text)
	}
}

func FacebookSpec() PlatformSpec {
	return PlatformSpec{
		Platform:        domain.PlatformFacebook,
		SignatureHeader: "X-Hub-Signature",
		Algorithm:       SHA1,
		classify:        metaClassifier(classifyFacebookChange),
		send:            messengerSend(domain.PlatformFacebook),
	}
}

func InstagramSpec() PlatformSpec {
	return PlatformSpec{
		Platform:        domain.PlatformInstagram,
		SignatureHeader: "X-Hub-Signature",
		Algorithm:       SHA1,
		classify:        metaClassifier(classifyInstagramChange),
		send:            messengerSend(domain.PlatformInstagram),
	}
}

func WhatsAppSpec() PlatformSpec {
	return PlatformSpec{
		Platform:        domain.PlatformWhatsApp,
		SignatureHeader: "X-Hub-Signature-256",
		Algorithm:       SHA256,
		classify:        classifyWhatsApp,
		send: func(ctx context.Context, g *GraphClient, c Credentials, to, text string) (*domain.SendReceipt, error) {
			return g.SendWhatsApp(ctx, c.AccessToken, c.PhoneNumberID, to, text)
		},
	}
}

// SpecFor returns the built-in spec for a platform.
func SpecFor(p domain.Platform) (PlatformSpec, error) {
	switch p {
	case domain.PlatformFacebook:
		return FacebookSpec(), nil
	case domain.PlatformInstagram:
		return InstagramSpec(), nil
	case domain.PlatformWhatsApp:
		return WhatsAppSpec(), nil
	}
	return PlatformSpec{}, fmt.Errorf("unsupported platform: %q", p)
}
