//go:build !unix

package platform

// Windows opens COM ports exclusively, so no advisory lock is needed there.
type noopDeviceLock struct{}

func acquireDeviceLock(_, _ string) (DeviceLock, error) {
	return noopDeviceLock{}, nil
}

func (noopDeviceLock) Release() error {
	return nil
}
