package catalogue

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mmspellbook/spellbook/pkg/opcode"
)

//go:embed catalogue.schema.json
var schemaText string

var schema = jsonschema.MustCompileString("catalogue.schema.json", schemaText)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("catalogue: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// document is the persisted form shared by JSON and CBOR.
type document struct {
	Operations map[string]entryDoc `json:"operations" cbor:"operations"`
}

type entryDoc struct {
	Params [][]restrictionDoc `json:"params,omitempty" cbor:"params,omitempty"`
}

type restrictionDoc struct {
	Kind  string   `json:"kind" cbor:"kind"`
	Value *float64 `json:"value,omitempty" cbor:"value,omitempty"`
	Lo    *float64 `json:"lo,omitempty" cbor:"lo,omitempty"`
	Hi    *float64 `json:"hi,omitempty" cbor:"hi,omitempty"`
	Bool  *bool    `json:"bool,omitempty" cbor:"bool,omitempty"`
}

func (c *Catalogue) document() document {
	doc := document{Operations: make(map[string]entryDoc, len(c.entries))}
	for op, e := range c.entries {
		var ed entryDoc
		for _, set := range e.Params {
			sd := make([]restrictionDoc, len(set))
			for i, r := range set {
				sd[i] = restrictionToDoc(r)
			}
			ed.Params = append(ed.Params, sd)
		}
		doc.Operations[op] = ed
	}
	return doc
}

func restrictionToDoc(r Restriction) restrictionDoc {
	d := restrictionDoc{Kind: r.Kind.String()}
	switch r.Kind {
	case Exact:
		v := r.Lo
		d.Value = &v
	case Range:
		lo, hi := r.Lo, r.Hi
		d.Lo, d.Hi = &lo, &hi
	case Is:
		b := r.Bool
		d.Bool = &b
	}
	return d
}

func restrictionFromDoc(d restrictionDoc) (Restriction, error) {
	switch d.Kind {
	case "any":
		return AnyValue(), nil
	case "exact":
		if d.Value == nil {
			return Restriction{}, fmt.Errorf("exact restriction without value")
		}
		return ExactValue(*d.Value), nil
	case "range":
		if d.Lo == nil || d.Hi == nil {
			return Restriction{}, fmt.Errorf("range restriction without bounds")
		}
		return Between(*d.Lo, *d.Hi), nil
	case "bool":
		if d.Bool == nil {
			return Restriction{}, fmt.Errorf("bool restriction without value")
		}
		return IsBool(*d.Bool), nil
	}
	return Restriction{}, fmt.Errorf("unknown restriction kind %q", d.Kind)
}

func fromDocument(doc document, table *opcode.Table) (*Catalogue, error) {
	c := New(table)
	for op, ed := range doc.Operations {
		params := make([][]Restriction, len(ed.Params))
		for i, sd := range ed.Params {
			for _, d := range sd {
				r, err := restrictionFromDoc(d)
				if err != nil {
					return nil, fmt.Errorf("catalogue: %s parameter %d: %w", op, i+1, err)
				}
				params[i] = append(params[i], r)
			}
		}
		if err := c.Grant(op, params...); err != nil {
			return nil, fmt.Errorf("catalogue: %w", err)
		}
	}
	return c, nil
}

// EncodeJSON renders the catalogue as its JSON document. Output is
// deterministic.
func (c *Catalogue) EncodeJSON() ([]byte, error) {
	return json.MarshalIndent(c.document(), "", "  ")
}

// DecodeJSON validates data against the catalogue schema and builds a
// catalogue over table.
func DecodeJSON(data []byte, table *opcode.Table) (*Catalogue, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalogue: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("catalogue: %w", err)
	}
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalogue: %w", err)
	}
	return fromDocument(doc, table)
}

// EncodeCBOR renders the catalogue in canonical CBOR.
func (c *Catalogue) EncodeCBOR() ([]byte, error) {
	return cborEncMode.Marshal(c.document())
}

// DecodeCBOR builds a catalogue over table from EncodeCBOR output.
func DecodeCBOR(data []byte, table *opcode.Table) (*Catalogue, error) {
	var doc document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalogue: unmarshal: %w", err)
	}
	return fromDocument(doc, table)
}
