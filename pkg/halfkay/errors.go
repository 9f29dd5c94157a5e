// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package halfkay

import (
	"errors"
	"fmt"
)

// ErrImageTooLarge is matched by ImageTooLargeError.
var ErrImageTooLarge = errors.New("image too large")

// ImageTooLargeError indicates that an image does not fit below the bootloader.
type ImageTooLargeError struct {
	Size     int
	Capacity int
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("firmware too large: %d bytes exceeds %d byte writable flash", e.Size, e.Capacity)
}

func (e *ImageTooLargeError) Is(target error) bool {
	return target == ErrImageTooLarge
}
