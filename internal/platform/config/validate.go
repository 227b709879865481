package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError lists config fields that are missing or out of range.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

func validate(cfg Config) error {
	var bad []string
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	check(absoluteURL(cfg.Gateway.BaseURL), "Gateway.BaseURL")
	check(absoluteURL(cfg.Gateway.FrontendURL), "Gateway.FrontendURL")
	check(cfg.Gateway.Timeout > 0, "Gateway.Timeout")
	check(len(cfg.Checkout.Currency) == 3, "Checkout.Currency")
	check(cfg.Checkout.IdentifierAttempts > 0, "Checkout.IdentifierAttempts")
	check(cfg.Checkout.SettlementWindow > 0, "Checkout.SettlementWindow")

	switch cfg.Events.Driver {
	case EventsDriverNone:
	case EventsDriverPubSub:
		check(cfg.Events.PubSubTopic != "", "Events.PubSubTopic")
	case EventsDriverKafka:
		check(len(cfg.Events.KafkaBrokers) > 0, "Events.KafkaBrokers")
		check(cfg.Events.KafkaTopic != "", "Events.KafkaTopic")
	default:
		check(false, "Events.Driver")
	}

	check(cfg.Idempotency.Header != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return raw != "" && err == nil && u.Scheme != "" && u.Host != ""
}
