// Package locator finds the running language server and recovers the
// connection parameters it was launched with.
//
// A scan lists processes through a platform.Probe, keeps those whose image
// name matches, and parses the CSRF token and extension port out of their
// command lines. For each such candidate it lists the TCP ports the process
// listens on and probes them in turn. The first port that answers the probe
// with a JSON body yields a ScanResult.
//
// Absence is not an error. The language server may still be starting, so
// Scan retries a bounded number of times and then reports "not available".
// Listing failures and rejected probes are only logged:
//
//	loc, _ := locator.New(probe, locator.NewHTTPVerifier())
//	if res, ok := loc.Scan(ctx, 3); ok {
//		fmt.Println(res.ConnectPort, res.CSRFToken)
//	}
package locator
