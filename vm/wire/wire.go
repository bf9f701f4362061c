// Package wire encodes compiled programs as CBOR images. Host bindings
// (method binds, utilities, accessors) are stored by name and resolved
// against the loading VM.
package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Version is the image format version written by Encode.
const Version = 1

// ErrUnresolved is returned when a host binding named by an image does not
// exist in the loading VM.
var ErrUnresolved = errors.New("unresolved binding")

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// ---------------------------------------------------------------------------
// Image types
// ---------------------------------------------------------------------------

// Image is a set of scripts and free functions.
type Image struct {
	Version   int        `cbor:"v"`
	Scripts   []Script   `cbor:"s,omitempty"`
	Functions []Function `cbor:"f,omitempty"`
}

// Script is the image of a vm.Script. Base is the 1-based index of the base
// script in the image, or 0. Members lists only the script's own members.
type Script struct {
	Name       string           `cbor:"n"`
	Base       int              `cbor:"b,omitempty"`
	NativeBase string           `cbor:"nb,omitempty"`
	Members    []Member         `cbor:"m,omitempty"`
	Statics    []Member         `cbor:"st,omitempty"`
	Constants  map[string]Value `cbor:"c,omitempty"`
	Functions  []Function       `cbor:"f,omitempty"`
}

// Member is a named slot: a typed member or a static with its value.
type Member struct {
	Name  string `cbor:"n"`
	Type  Type   `cbor:"t,omitempty"`
	Value Value  `cbor:"v,omitempty"`
}

// Type is the image of a vm.TypeInfo. Script is a 1-based script index.
type Type struct {
	Kind    uint8  `cbor:"k,omitempty"`
	Builtin uint8  `cbor:"b,omitempty"`
	Class   string `cbor:"c,omitempty"`
	Script  int    `cbor:"s,omitempty"`
	Elem    []Type `cbor:"e,omitempty"`
}

// Value is the image of a constant. Only values without host identity can
// be encoded; script references are stored by index.
type Value struct {
	Type     uint8     `cbor:"t"`
	Bool     bool      `cbor:"b,omitempty"`
	Int      int64     `cbor:"i,omitempty"`
	Float    float64   `cbor:"f,omitempty"`
	Str      string    `cbor:"s,omitempty"`
	Ints     []int64   `cbor:"is,omitempty"`
	Floats   []float64 `cbor:"fs,omitempty"`
	Strs     []string  `cbor:"ss,omitempty"`
	Bytes    []byte    `cbor:"by,omitempty"`
	Elems    []Value   `cbor:"e,omitempty"` // Map entries are key, value pairs
	Elem     []Type    `cbor:"y,omitempty"`
	ReadOnly bool      `cbor:"ro,omitempty"`
	Script   int       `cbor:"sc,omitempty"`
}

// Function is the image of a vm.Function.
type Function struct {
	Name        string   `cbor:"n"`
	Source      string   `cbor:"src,omitempty"`
	Code        []int32  `cbor:"code"`
	Constants   []Value  `cbor:"k,omitempty"`
	Names       []string `cbor:"nm,omitempty"`
	ArgNames    []string `cbor:"an,omitempty"`
	ArgTypes    []Type   `cbor:"at,omitempty"`
	Return      Type     `cbor:"r,omitempty"`
	DefaultArgs []int    `cbor:"d,omitempty"`
	StackSize   int      `cbor:"ss"`
	Variadic    bool     `cbor:"va,omitempty"`
	Static      bool     `cbor:"st,omitempty"`

	Methods        []Ref      `cbor:"mb,omitempty"`
	Utilities      []string   `cbor:"u,omitempty"`
	Operators      []OpRef    `cbor:"op,omitempty"`
	Accessors      []Ref      `cbor:"ac,omitempty"`
	Constructors   []OpRef    `cbor:"ct,omitempty"`
	BuiltinMethods []Ref      `cbor:"bm,omitempty"`
	TypeInfos      []Type     `cbor:"ti,omitempty"`
	Lambdas        []Function `cbor:"l,omitempty"`
}

// Ref names a binding: a host method (Class, Name), a builtin method or an
// accessor (Base, Name).
type Ref struct {
	Class string `cbor:"c,omitempty"`
	Base  uint8  `cbor:"b,omitempty"`
	Name  string `cbor:"n,omitempty"`
}

// OpRef names a validated operator (Op, Types[0], Types[1]) or a
// constructor (Base, Types as argument types).
type OpRef struct {
	Op    uint8   `cbor:"o,omitempty"`
	Base  uint8   `cbor:"b,omitempty"`
	Types []uint8 `cbor:"t,omitempty"`
}

// Marshal serializes an image with canonical CBOR.
func Marshal(img *Image) ([]byte, error) {
	return encMode.Marshal(img)
}

// Unmarshal deserializes an image.
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("wire: unmarshal image: %w", err)
	}
	if img.Version != Version {
		return nil, fmt.Errorf("wire: unsupported image version %d", img.Version)
	}
	return &img, nil
}
