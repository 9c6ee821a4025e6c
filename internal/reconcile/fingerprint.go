package reconcile

import "strconv"

func parseUnixSeconds(fingerprint string) (int64, error) {
	return strconv.ParseInt(fingerprint, 10, 64)
}
