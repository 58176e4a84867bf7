package upstream

import "github.com/tidwall/sjson"

// Payload accumulates sjson writes into a JSON document, keeping the first error.
type Payload struct {
	body []byte
	err  error
}

// NewPayload starts an empty JSON object.
func NewPayload() *Payload {
	return &Payload{body: []byte(`{}`)}
}

// Set writes value at path.
func (p *Payload) Set(path string, value any) *Payload {
	if p.err != nil {
		return p
	}
	p.body, p.err = sjson.SetBytes(p.body, path, value)
	return p
}

// SetRaw writes pre-encoded JSON at path.
func (p *Payload) SetRaw(path string, raw []byte) *Payload {
	if p.err != nil {
		return p
	}
	p.body, p.err = sjson.SetRawBytes(p.body, path, raw)
	return p
}

// Append adds an element to the array at path, creating it when absent.
func (p *Payload) Append(path string, item *Payload) *Payload {
	if p.err != nil {
		return p
	}
	if item.err != nil {
		p.err = item.err
		return p
	}
	if !(Rules{path}).Exists(p.body) {
		p.SetRaw(path, []byte(`[]`))
	}
	return p.SetRaw(path+".-1", item.body)
}

// Bytes returns the document or the first write error.
func (p *Payload) Bytes() ([]byte, error) {
	return p.body, p.err
}
