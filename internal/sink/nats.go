package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/fanyang89/sql-insight/internal/logger"
	"github.com/fanyang89/sql-insight/internal/output"
)

const connectionName = "sqlinsight"

// Publisher is the subset of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATS publishes compact JSON records to a subject. Publish failures are
// logged and swallowed so a broker outage never stops collection.
type NATS struct {
	pub     Publisher
	subject string
	log     zerolog.Logger
}

// NewNATS wraps an existing publisher.
func NewNATS(pub Publisher, subject string) *NATS {
	return &NATS{
		pub:     pub,
		subject: subject,
		log:     logger.WithComponent("sink").With().Str("subject", subject).Logger(),
	}
}

// ConnectNATS dials url and returns a sink publishing to subject.
func ConnectNATS(url, subject string, opts ...nats.Option) (*NATS, error) {
	if subject == "" {
		return nil, errors.New("nats subject is empty")
	}
	log := logger.WithComponent("sink")
	base := []nats.Option{
		nats.Name(connectionName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Str("subject", subject).Msg("publishing records to NATS")
	return NewNATS(nc, subject), nil
}

func (s *NATS) Emit(_ context.Context, rec any) error {
	data, err := output.Marshal(rec, false)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		s.log.Warn().Err(err).Int("bytes", len(data)).Msg("failed to publish record")
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (s *NATS) Close() error {
	if err := s.pub.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
