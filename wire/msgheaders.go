package wire

import (
	"io"

	"github.com/pkg/errors"
)

// MaxHeadersPerMsg bounds the number of headers a single headers
// message may carry.
const MaxHeadersPerMsg = 2000

// MsgHeaders carries a batch of block headers, each followed by a
// zero transaction count byte (legacy compatibility with the block
// message encoding).
type MsgHeaders struct {
	Headers []*BlockHeader
}

func (msg *MsgHeaders) Command() string { return CmdHeaders }

func (msg *MsgHeaders) Encode(w io.Writer) error {
	if len(msg.Headers) > MaxHeadersPerMsg {
		return errors.Errorf("too many headers for message [count %d, max %d]", len(msg.Headers), MaxHeadersPerMsg)
	}
	if err := WriteVarInt(w, uint64(len(msg.Headers))); err != nil {
		return err
	}
	for _, h := range msg.Headers {
		if err := h.Encode(w); err != nil {
			return err
		}
		if err := WriteVarInt(w, 0); err != nil {
			return err
		}
	}
	return nil
}

func (msg *MsgHeaders) Decode(r io.Reader) error {
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > MaxHeadersPerMsg {
		return errors.Errorf("too many headers for message [count %d, max %d]", count, MaxHeadersPerMsg)
	}
	msg.Headers = make([]*BlockHeader, 0, count)
	for i := uint64(0); i < count; i++ {
		h := &BlockHeader{}
		if err := h.Decode(r); err != nil {
			return err
		}
		txCount, err := ReadVarInt(r)
		if err != nil {
			return err
		}
		if txCount != 0 {
			return errors.Errorf("headers message header claims %d transactions", txCount)
		}
		msg.Headers = append(msg.Headers, h)
	}
	return nil
}

// AddBlockHeader appends a header, enforcing the per-message cap.
func (msg *MsgHeaders) AddBlockHeader(h *BlockHeader) error {
	if len(msg.Headers)+1 > MaxHeadersPerMsg {
		return errors.Errorf("headers message exceeds max headers of %d", MaxHeadersPerMsg)
	}
	msg.Headers = append(msg.Headers, h)
	return nil
}
