package persistence

import (
	"encoding/json"
	"fmt"
)

// MarshalRegistrationRound serializes a RegistrationRound to JSON bytes.
func MarshalRegistrationRound(round *RegistrationRound) ([]byte, error) {
	if round == nil {
		return nil, fmt.Errorf("persistence: cannot marshal nil RegistrationRound")
	}
	data, err := json.Marshal(round)
	if err != nil {
		return nil, fmt.Errorf("persistence: marshal RegistrationRound: %w", err)
	}
	return data, nil
}

// UnmarshalRegistrationRound deserializes a RegistrationRound from JSON bytes.
func UnmarshalRegistrationRound(data []byte) (*RegistrationRound, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("persistence: cannot unmarshal empty data")
	}
	var round RegistrationRound
	if err := json.Unmarshal(data, &round); err != nil {
		return nil, fmt.Errorf("persistence: unmarshal RegistrationRound: %w", err)
	}
	return &round, nil
}

// MarshalCheckpoint serializes a SignerCheckpoint to JSON bytes.
func MarshalCheckpoint(checkpoint *SignerCheckpoint) ([]byte, error) {
	if checkpoint == nil {
		return nil, fmt.Errorf("persistence: cannot marshal nil SignerCheckpoint")
	}
	return json.Marshal(checkpoint)
}

// UnmarshalCheckpoint deserializes a SignerCheckpoint from JSON bytes.
func UnmarshalCheckpoint(data []byte) (*SignerCheckpoint, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("persistence: cannot unmarshal empty data")
	}
	var checkpoint SignerCheckpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("persistence: unmarshal SignerCheckpoint: %w", err)
	}
	return &checkpoint, nil
}
