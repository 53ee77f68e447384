package txscript

import "math/big"

// MaxScriptElementSize is the maximum number of bytes pushable onto
// the stack in a single element.
const MaxScriptElementSize = 520

// stack is the data or alt stack used during script evaluation. It
// stores raw byte strings; numeric interpretation happens only at the
// opcodes that need it, matching Bitcoin's minimally-typed stack.
type stack struct {
	items [][]byte
}

func (s *stack) Depth() int { return len(s.items) }

func (s *stack) PushByteArray(b []byte) {
	s.items = append(s.items, b)
}

func (s *stack) PushBool(v bool) {
	if v {
		s.PushByteArray([]byte{1})
	} else {
		s.PushByteArray(nil)
	}
}

func (s *stack) PushInt(n *scriptNum) {
	s.PushByteArray(n.Bytes())
}

func (s *stack) PopByteArray() ([]byte, error) {
	if len(s.items) == 0 {
		return nil, scriptError(ErrInvalidStackOperation, "pop from empty stack")
	}
	v := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return v, nil
}

func (s *stack) PopBool() (bool, error) {
	v, err := s.PopByteArray()
	if err != nil {
		return false, err
	}
	return asBool(v), nil
}

func (s *stack) PopInt() (*scriptNum, error) {
	v, err := s.PopByteArray()
	if err != nil {
		return nil, err
	}
	return makeScriptNum(v, true, defaultScriptNumLen)
}

// PeekByteArray returns the idx-th item from the top (0 is the top).
func (s *stack) PeekByteArray(idx int) ([]byte, error) {
	i := len(s.items) - idx - 1
	if idx < 0 || i < 0 {
		return nil, scriptError(ErrInvalidStackOperation, "stack index out of range")
	}
	return s.items[i], nil
}

func (s *stack) NthByteArray(idx int) ([]byte, error) { return s.PeekByteArray(idx) }

// DupN duplicates the top n items.
func (s *stack) DupN(n int) error {
	if n < 1 {
		return scriptError(ErrInvalidStackOperation, "dupn requires n >= 1")
	}
	for i := 0; i < n; i++ {
		v, err := s.PeekByteArray(n - 1)
		if err != nil {
			return err
		}
		s.PushByteArray(v)
	}
	return nil
}

// Tuck copies the top item and inserts the copy below the
// second-to-top item.
func (s *stack) Tuck() error {
	v2, err := s.PopByteArray()
	if err != nil {
		return err
	}
	v1, err := s.PopByteArray()
	if err != nil {
		return err
	}
	s.PushByteArray(v2)
	s.PushByteArray(v1)
	s.PushByteArray(v2)
	return nil
}

// DropN removes the top n items.
func (s *stack) DropN(n int) error {
	for i := 0; i < n; i++ {
		if _, err := s.PopByteArray(); err != nil {
			return err
		}
	}
	return nil
}

// RotN rotates the top 3n items, moving the deepest group of n items
// up to the top.
func (s *stack) RotN(n int) error {
	entry := 3*n - 1
	for i := 0; i < n; i++ {
		v, err := s.PeekByteArray(entry)
		if err != nil {
			return err
		}
		s.items = append(s.items[:len(s.items)-entry-1], append(s.items[len(s.items)-entry:], v)...)
	}
	return nil
}

// SwapN swaps the top n items with the n items below them.
func (s *stack) SwapN(n int) error {
	for i := 0; i < n; i++ {
		a := len(s.items) - n - n + i
		b := len(s.items) - n + i
		if a < 0 || b >= len(s.items) {
			return scriptError(ErrInvalidStackOperation, "swapn out of range")
		}
		s.items[a], s.items[b] = s.items[b], s.items[a]
	}
	return nil
}

// OverN copies the n items starting n items back to the top.
func (s *stack) OverN(n int) error {
	for i := 0; i < n; i++ {
		v, err := s.PeekByteArray(2*n - 1)
		if err != nil {
			return err
		}
		s.PushByteArray(v)
	}
	return nil
}

func asBool(v []byte) bool {
	for i, b := range v {
		if b != 0 {
			if i == len(v)-1 && b == 0x80 {
				return false
			}
			return true
		}
	}
	return false
}

const defaultScriptNumLen = 4

// scriptNum implements the script interpreter's restricted integer
// type: little-endian, sign-magnitude, at most 4 bytes in normal
// arithmetic opcodes, with explicit over/underflow rejection rather
// than wraparound.
type scriptNum struct {
	val *big.Int
}

func scriptNumFromInt(n int64) *scriptNum {
	return &scriptNum{val: big.NewInt(n)}
}

func makeScriptNum(v []byte, minimal bool, maxLen int) (*scriptNum, error) {
	if len(v) > maxLen {
		return nil, scriptError(ErrNumberTooBig, "numeric value exceeds the allowed length")
	}
	if minimal && len(v) > 0 {
		if v[len(v)-1]&0x7f == 0 {
			if len(v) == 1 || v[len(v)-2]&0x80 == 0 {
				return nil, scriptError(ErrMinimalData, "numeric value has a non-minimal encoding")
			}
		}
	}
	if len(v) == 0 {
		return &scriptNum{val: big.NewInt(0)}, nil
	}

	buf := make([]byte, len(v))
	copy(buf, v)
	negative := buf[len(buf)-1]&0x80 != 0
	if negative {
		buf[len(buf)-1] &^= 0x80
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	n := new(big.Int).SetBytes(buf)
	if negative {
		n.Neg(n)
	}
	return &scriptNum{val: n}, nil
}

func (n *scriptNum) Int32() int32 {
	if !n.val.IsInt64() {
		if n.val.Sign() < 0 {
			return -2147483648
		}
		return 2147483647
	}
	v := n.val.Int64()
	if v > 2147483647 {
		return 2147483647
	}
	if v < -2147483648 {
		return -2147483648
	}
	return int32(v)
}

func (n *scriptNum) Int64() int64 { return n.val.Int64() }

func (n *scriptNum) Bytes() []byte {
	if n.val.Sign() == 0 {
		return nil
	}
	negative := n.val.Sign() < 0
	abs := new(big.Int).Abs(n.val)
	b := abs.Bytes()
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	if len(b) > 0 && b[len(b)-1]&0x80 != 0 {
		b = append(b, 0)
	}
	if negative {
		b[len(b)-1] |= 0x80
	}
	return b
}

func (n *scriptNum) add(o *scriptNum) *scriptNum { return &scriptNum{val: new(big.Int).Add(n.val, o.val)} }
func (n *scriptNum) sub(o *scriptNum) *scriptNum { return &scriptNum{val: new(big.Int).Sub(n.val, o.val)} }
func (n *scriptNum) neg() *scriptNum             { return &scriptNum{val: new(big.Int).Neg(n.val)} }
func (n *scriptNum) cmp(o *scriptNum) int        { return n.val.Cmp(o.val) }

func mulBig(a, b *scriptNum) *big.Int { return new(big.Int).Mul(a.val, b.val) }

// divBig and modBig implement truncated (toward-zero) division and
// remainder, matching the interpreter's integer arithmetic rather
// than big.Int's default Euclidean Mod.
func divBig(a, b *scriptNum) *big.Int {
	q, _ := new(big.Int).QuoRem(a.val, b.val, new(big.Int))
	return q
}

func modBig(a, b *scriptNum) *big.Int {
	_, r := new(big.Int).QuoRem(a.val, b.val, new(big.Int))
	return r
}
