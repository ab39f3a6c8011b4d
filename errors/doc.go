// Package errors provides classified error handling for the serving layer.
//
// Errors fall into three classes:
//
//   - Transient: temporary conditions (peer timeouts, full queues, network
//     hiccups) that a caller may retry.
//   - Invalid: bad input or configuration; retrying without change is
//     pointless.
//   - Fatal: unrecoverable conditions (corrupt cache entries, broken
//     configuration).
//
// Use the Wrap* helpers to attach component/operation context while
// classifying:
//
//	if err := cache.Save(key, proj); err != nil {
//		return errors.WrapFatal(err, "Engine", "Project", "persist projection")
//	}
//
// The HTTP layer maps classes to status codes: Invalid to 4xx, everything
// else to 5xx, with the bridge sentinels ErrNoPeer and ErrPeerTimeout
// mapped to 503 and 408 respectively.
package errors
