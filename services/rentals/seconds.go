package rentals

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Seconds is a whole number of playable seconds. On the wire it is a JSON number, but numeric
// strings such as "3600" are accepted on input for older storefront clients.
type Seconds int64

// ParseSeconds parses a base-10 integer, rejecting anything else instead of producing garbage.
func ParseSeconds(v string) (Seconds, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("%w: empty duration", ErrValidation)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q is not a whole number of seconds", ErrValidation, v)
	}
	return Seconds(n), nil
}

func (s *Seconds) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := ParseSeconds(str)
		if err != nil {
			return err
		}
		*s = v
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("%w: duration must be a number of seconds", ErrValidation)
	}
	v, err := ParseSeconds(num.String())
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// SecondsFrom truncates d to whole seconds.
func SecondsFrom(d time.Duration) Seconds {
	return Seconds(d / time.Second)
}
