package consensus

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/url"

	wdos "github.com/wisdomchain/wisdom/libs/os"
	"github.com/wisdomchain/wisdom/types"
)

// LoadValidators reads the static proposer list. The file is a JSON array
// of wisdom://<address>@host:port URIs; the result holds the hex encoded
// pubkey hash of each address, in file order.
func LoadValidators(path string) ([]string, error) {
	bz, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read validators file: %w", err)
	}
	return ParseValidators(bz)
}

// ParseValidators decodes the contents of a validators file.
func ParseValidators(bz []byte) ([]string, error) {
	var uris []string
	if err := json.Unmarshal(bz, &uris); err != nil {
		return nil, fmt.Errorf("invalid validators file: %w", err)
	}
	res := make([]string, 0, len(uris))
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid validator %q: %w", raw, err)
		}
		if u.User == nil {
			return nil, fmt.Errorf("validator %q has no address", raw)
		}
		pkh, err := types.PubkeyHashFromAddress(u.User.Username())
		if err != nil {
			return nil, fmt.Errorf("validator %q: %w", raw, err)
		}
		res = append(res, types.PubkeyHashHex(pkh))
	}
	return res, nil
}

// SaveValidators atomically writes uris as a validators file.
func SaveValidators(path string, uris []string) error {
	bz, err := json.MarshalIndent(uris, "", "  ")
	if err != nil {
		return err
	}
	return wdos.WriteFileAtomic(path, bz, 0644)
}
