package opcert

import "github.com/btcsuite/btcutil/bech32"

// encodeBech32 encodes data under hrp using plain bech32 (not bech32m).
func encodeBech32(hrp string, data []byte) (string, error) {
	fiveBit, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, fiveBit)
}
