// Package broker wraps the AMQP 0-9-1 transport (github.com/streadway/amqp)
// MetricQ rides on: connection dialing with bounded backoff, the shared
// exchange/queue topology of §6, and credential propagation from the
// management URL to the data/history URLs opened on demand (§4.5).
package broker

import "net/url"

// ApplyCredentials re-applies the userinfo (user:password) of source onto
// target, leaving target's host/port/vhost/query untouched. The manager
// hands back a bare dataServerAddress; the data connection must authenticate
// with the same credentials as the management connection (§4.5).
func ApplyCredentials(source, target string) (string, error) {
	srcURL, err := url.Parse(source)
	if err != nil {
		return "", err
	}
	dstURL, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if srcURL.User != nil {
		dstURL.User = srcURL.User
	}
	return dstURL.String(), nil
}
