package toolcache

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/linanwx/edgeagent/tools"
)

// Key identifies a cached result: the tool name and a hash of its
// arguments.
type Key struct {
	Tool     string
	ArgsHash [32]byte
}

// String renders the key as tool:hexprefix for logs.
func (k Key) String() string {
	return k.Tool + ":" + hex.EncodeToString(k.ArgsHash[:8])
}

// encMode encodes with Core Deterministic Encoding so logically equal
// arguments produce identical bytes regardless of JSON key order.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("toolcache: CBOR encoder initialization failed: " + err.Error())
	}
}

// KeyFor derives the cache key of a call. Arguments that are not valid
// JSON are hashed as raw bytes.
func KeyFor(call tools.Call) Key {
	return Key{Tool: call.Name, ArgsHash: hashArgs(call.Arguments)}
}

func hashArgs(raw json.RawMessage) [32]byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil || dec.More() {
		return blake3.Sum256(raw)
	}
	canonical, err := encMode.Marshal(exactNumbers(decoded))
	if err != nil {
		return blake3.Sum256(raw)
	}
	return blake3.Sum256(canonical)
}

// decimalFractionTag is the CBOR tag for [exponent, mantissa] decimals.
const decimalFractionTag = 4

// maxIntExponent bounds how far a decimal exponent is expanded into an
// integer.
const maxIntExponent = 64

// exactNumbers replaces every json.Number in v with a value CBOR encodes
// without rounding: integers become big.Int, other numbers a decimal
// fraction. Equal numbers spelled differently (1.50, 1.5, 15e-1) encode
// the same; a number never encodes like a string.
func exactNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = exactNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = exactNumbers(e)
		}
		return t
	case json.Number:
		return exactNumber(string(t))
	default:
		return v
	}
}

func exactNumber(s string) any {
	mantissa, exp, ok := parseDecimal(s)
	if !ok {
		return cbor.Tag{Number: decimalFractionTag, Content: s}
	}
	if mantissa.Sign() == 0 {
		return mantissa
	}
	ten := big.NewInt(10)
	r := new(big.Int)
	for {
		q, m := new(big.Int).QuoRem(mantissa, ten, r)
		if m.Sign() != 0 {
			break
		}
		mantissa = q
		exp++
	}
	if exp >= 0 && exp <= maxIntExponent {
		return mantissa.Mul(mantissa, new(big.Int).Exp(ten, big.NewInt(int64(exp)), nil))
	}
	return cbor.Tag{Number: decimalFractionTag, Content: []any{exp, mantissa}}
}

// parseDecimal splits a JSON number into an integer mantissa and a base-10
// exponent.
func parseDecimal(s string) (*big.Int, int64, bool) {
	var exp int64
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		e, err := strconv.ParseInt(s[i+1:], 10, 32)
		if err != nil {
			return nil, 0, false
		}
		exp = e
		s = s[:i]
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		exp -= int64(len(s) - i - 1)
		s = s[:i] + s[i+1:]
	}
	mantissa, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, 0, false
	}
	return mantissa, exp, true
}
