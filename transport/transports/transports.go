// Package transports registers every built-in transport with the default
// registry. Import it for its side effects.
package transports

import (
	_ "github.com/drblury/embedbridge/transport/aws"
	_ "github.com/drblury/embedbridge/transport/channel"
	_ "github.com/drblury/embedbridge/transport/http"
	_ "github.com/drblury/embedbridge/transport/io"
	_ "github.com/drblury/embedbridge/transport/kafka"
	_ "github.com/drblury/embedbridge/transport/nats"
	_ "github.com/drblury/embedbridge/transport/rabbitmq"
)
