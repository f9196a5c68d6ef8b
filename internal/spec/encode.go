package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// EncodeJSON renders a spec as indented JSON, preserving select order. The
// standard marshaler cannot be used directly: a select serializes as an
// object whose key order is the field order.
func EncodeJSON(sp *Spec) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeSpec(&buf, sp, 0); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func encodeSpec(buf *bytes.Buffer, sp *Spec, indent int) error {
	if sp == nil {
		return fmt.Errorf("spec is nil")
	}

	buf.WriteString("{\n")
	writeIndent(buf, indent+1)
	buf.WriteString(`"entity": `)
	writeString(buf, sp.Entity)

	if sp.Select != nil {
		buf.WriteString(",\n")
		writeIndent(buf, indent+1)
		buf.WriteString(`"select": `)
		if err := encodeSelect(buf, sp.Select, indent+1); err != nil {
			return err
		}
	}

	buf.WriteByte('\n')
	writeIndent(buf, indent)
	buf.WriteByte('}')
	return nil
}

func encodeSelect(buf *bytes.Buffer, fields []Field, indent int) error {
	if len(fields) == 0 {
		buf.WriteString("{}")
		return nil
	}

	buf.WriteString("{\n")
	for i, field := range fields {
		writeIndent(buf, indent+1)
		writeString(buf, field.Name)
		buf.WriteString(": ")

		switch field.Kind {
		case PlainField:
			buf.WriteString("true")
		case RenamedField:
			writeString(buf, field.Alias)
		case RelationField:
			if err := encodeRelation(buf, field.Relation, indent+1); err != nil {
				return err
			}
		default:
			return fmt.Errorf("field %q has unknown kind", field.Name)
		}

		if i < len(fields)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	writeIndent(buf, indent)
	buf.WriteByte('}')
	return nil
}

func encodeRelation(buf *bytes.Buffer, rel *Relation, indent int) error {
	if rel == nil {
		return fmt.Errorf("relation is nil")
	}

	buf.WriteString("{\n")
	writeIndent(buf, indent+1)
	buf.WriteString(`"spec": `)
	if err := encodeSpec(buf, rel.Spec, indent+1); err != nil {
		return err
	}

	if rel.HasFirst {
		buf.WriteString(",\n")
		writeIndent(buf, indent+1)
		buf.WriteString(`"first": `)
		buf.WriteString(strconv.Itoa(rel.First))
	}
	if rel.Via != "" {
		buf.WriteString(",\n")
		writeIndent(buf, indent+1)
		buf.WriteString(`"via": `)
		writeString(buf, rel.Via)
	}

	buf.WriteByte('\n')
	writeIndent(buf, indent)
	buf.WriteByte('}')
	return nil
}

func writeIndent(buf *bytes.Buffer, level int) {
	for i := 0; i < level; i++ {
		buf.WriteString("  ")
	}
}

func writeString(buf *bytes.Buffer, s string) {
	encoded, err := json.Marshal(s)
	if err != nil {
		// Strings always marshal.
		panic(err)
	}
	buf.Write(encoded)
}
