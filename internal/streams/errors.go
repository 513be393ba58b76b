package streams

import "fmt"

func errDeltaFailed(err error) error {
	return fmt.Errorf("delta computation failed: %w", err)
}

func errWriteFailed(err error) error {
	return fmt.Errorf("write failed: %w", err)
}

func errRedisPublish(channel string, err error) error {
	return fmt.Errorf("unable to publish revision to Redis channel %q: %w", channel, err)
}
