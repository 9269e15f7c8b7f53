package detector

import (
	"encoding/base64"
	"encoding/json"
	"net"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// validCreditCard runs the Luhn mod-10 checksum over the digits of match,
// ignoring spaces and dashes. spec.md §4.1 / §8 testable property 9.
func validCreditCard(match string) bool {
	digits := make([]byte, 0, len(match))
	for _, r := range match {
		if r >= '0' && r <= '9' {
			digits = append(digits, byte(r))
		} else if r != '-' && r != ' ' {
			return false
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}

// validSSN rejects the reserved area codes (000, 666, 900-999), group 00,
// and serial 0000, per spec.md §4.1 / §8 testable property 9.
func validSSN(match string) bool {
	parts := strings.Split(match, "-")
	if len(parts) != 3 {
		return false
	}
	area, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	group, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	serial, err := strconv.Atoi(parts[2])
	if err != nil {
		return false
	}
	if area == 0 || area == 666 || area >= 900 {
		return false
	}
	if group == 0 {
		return false
	}
	if serial == 0 {
		return false
	}
	return true
}

// validJWT decodes the token's header segment (without verifying the
// signature — the token was *found* in a payload, not presented for
// authentication) and requires it to be a JSON object carrying an "alg"
// field, per spec.md §4.1.
func validJWT(match string) bool {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(match, jwt.MapClaims{})
	if err != nil {
		return headerHasAlg(match)
	}
	return token.Method != nil
}

// headerHasAlg is a fallback for tokens whose claims segment jwt.Parser
// rejects (e.g. a non-object claims payload) but whose header segment is
// still a well-formed JWT header.
func headerHasAlg(match string) bool {
	segments := strings.Split(match, ".")
	if len(segments) != 3 {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(segments[0])
	if err != nil {
		return false
	}
	var header map[string]any
	if err := json.Unmarshal(raw, &header); err != nil {
		return false
	}
	_, ok := header["alg"]
	return ok
}

// privateRanges are the RFC 1918 / loopback ranges spec.md §4.1 requires.
var privateRanges = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "127.0.0.0/8"} {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}()

// validPrivateIPv4 keeps only matches that parse as a well-formed IPv4
// address within a private or loopback range.
func validPrivateIPv4(match string) bool {
	ip := net.ParseIP(match)
	if ip == nil || ip.To4() == nil {
		return false
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
