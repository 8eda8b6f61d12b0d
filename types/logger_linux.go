package types

import (
	"io"
	"net"

	"github.com/rs/zerolog/journald"
)

const journaldSocket = "/run/systemd/journal/socket"

func isJournaldAvailable() bool {
	conn, err := net.Dial("unixgram", journaldSocket)
	if err != nil {
		return false
	}
	defer conn.Close()
	return true
}

func getJournaldWriter() io.Writer {
	return journald.NewJournalDWriter()
}
