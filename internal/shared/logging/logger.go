package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New cria o logger estruturado da aplicação.
// format "json" escreve uma linha JSON por evento; qualquer outro valor usa o ConsoleWriter.
func New(level, format string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if strings.ToLower(format) != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "finops-engine").Logger()
}

// Nop retorna um logger desabilitado, usado em testes.
func Nop() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}
