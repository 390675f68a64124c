package transport

import (
	"log/slog"

	"github.com/casualjim/broadcast/pkg/slogx"
)

func logger() *slog.Logger { return slogx.Named("broadcast.transport") }
