package workflow

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// magicPattern recognizes a single magic token: {name} or {name:arg1:arg2}.
var magicPattern = regexp.MustCompile(`\{([a-zA-Z_]+)(:[^{}]*)?\}`)

// magicGenerator produces a value for one magic token invocation. Output is
// non-deterministic (except where noted); the signature (name + args) is
// fixed and validated at compile time.
type magicGenerator func(args []string) (string, error)

var magicGenerators = map[string]magicGenerator{
	"uuid": func(args []string) (string, error) {
		return uuid.NewString(), nil
	},
	"email": func(args []string) (string, error) {
		return fmt.Sprintf("user%d@example.test", rand.Intn(1_000_000)), nil
	},
	"timestamp": func(args []string) (string, error) {
		return strconv.FormatInt(time.Now().Unix(), 10), nil
	},
	"random_string": func(args []string) (string, error) {
		n := 10
		if len(args) > 0 && args[0] != "" {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return "", fmt.Errorf("random_string: invalid length %q", args[0])
			}
			n = v
		}
		const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
		b := make([]byte, n)
		for i := range b {
			b[i] = alphabet[rand.Intn(len(alphabet))]
		}
		return string(b), nil
	},
	"random_int": func(args []string) (string, error) {
		lo, hi := 0, 100
		if len(args) >= 2 {
			var err error
			if lo, err = strconv.Atoi(args[0]); err != nil {
				return "", fmt.Errorf("random_int: invalid min %q", args[0])
			}
			if hi, err = strconv.Atoi(args[1]); err != nil {
				return "", fmt.Errorf("random_int: invalid max %q", args[1])
			}
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		return strconv.Itoa(lo + rand.Intn(hi-lo+1)), nil
	},
}
