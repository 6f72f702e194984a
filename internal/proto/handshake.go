package proto

import (
	"encoding/binary"

	boltErr "github.com/cypherbolt/bolt-go/errors"
	"github.com/cypherbolt/bolt-go/internal/transport"
)

// HandshakeMagic is the 32-bit preamble the client always sends first.
const HandshakeMagic uint32 = 0x6060B017

// httpSentinel is the 32-bit value the server sends back when the client
// connected to the plain HTTP port instead of the Bolt port; it decodes to
// the ASCII bytes "HTTP".
const httpSentinel uint32 = 0x48545450

// noVersionMatch is the server's response when none of the four proposed
// versions are acceptable.
const noVersionMatch uint32 = 0x00000000

// Handshake writes the magic preamble and four proposed versions (in
// preference order, zero-padded to four slots) and reads back the server's
// chosen version.
//
// proposals must have length <= 4; it is zero-padded to exactly 4 words.
func Handshake(ch *transport.Channel, proposals []uint32) (uint32, error) {
	var words [4]uint32
	copy(words[:], proposals)

	buf := make([]byte, 20)
	binary.BigEndian.PutUint32(buf[0:4], HandshakeMagic)
	for i, v := range words {
		binary.BigEndian.PutUint32(buf[4+i*4:8+i*4], v)
	}

	if err := ch.WriteHandshake(buf); err != nil {
		return 0, boltErr.New(boltErr.CodeServiceUnavailable, "failed to write handshake", err)
	}

	resp := make([]byte, 4)
	if _, err := readFull(ch, resp); err != nil {
		return 0, boltErr.New(boltErr.CodeServiceUnavailable, "failed to read handshake response", err)
	}
	chosen := binary.BigEndian.Uint32(resp)

	switch chosen {
	case httpSentinel:
		return 0, boltErr.New(boltErr.CodeProtocolError,
			"server responded with the HTTP handshake sentinel: the configured port is probably the driver's "+
				"default HTTP port (7474) rather than its Bolt port (7687); check the connection URL")
	case noVersionMatch:
		return 0, boltErr.New(boltErr.CodeProtocolError, "server did not accept any proposed protocol version")
	}

	for _, v := range words {
		if v == chosen {
			return chosen, nil
		}
	}
	return 0, boltErr.Newf(boltErr.CodeProtocolError, "server chose unrecognized protocol version 0x%08X", chosen)
}

type byteReader interface {
	Read(p []byte) (int, error)
}

func readFull(r byteReader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
