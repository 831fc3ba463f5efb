package opcert

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// envelopeType is the on-disk "type" tag for an operational certificate
// envelope file.
const envelopeType = "NodeOperationalCertificate"

// envelope is the Shelley text-envelope wrapping a hex-encoded CBOR
// payload: a JSON header of (type, description, cborHex).
type envelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	CborHex     string `json:"cborHex"`
}

// EncodeEnvelope serializes the OpCert into its on-disk Shelley envelope
// form.
func (c *OpCert) EncodeEnvelope() ([]byte, error) {
	raw, err := c.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("opcert: encoding envelope: %w", err)
	}
	env := envelope{
		Type:        envelopeType,
		Description: "",
		CborHex:     hex.EncodeToString(raw),
	}
	return json.MarshalIndent(env, "", "    ")
}

// DecodeEnvelope parses a Shelley envelope file and decodes its CBOR
// payload into an OpCert.
func DecodeEnvelope(data []byte) (*OpCert, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("opcert: parse error: %w", err)
	}
	raw, err := hex.DecodeString(env.CborHex)
	if err != nil {
		return nil, fmt.Errorf("opcert: parse error: cborHex is not valid hex: %w", err)
	}
	return UnmarshalCBOR(raw)
}
