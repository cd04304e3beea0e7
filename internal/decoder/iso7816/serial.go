package iso7816

import "golang.org/x/sys/unix"

// ConfigureSerial applies the termios settings an ISO-7816 contact reader
// attached via a USB-serial bridge needs: raw mode, no parity, 8N1, and the
// baud rate implied by the card's current etu, so the kernel line
// discipline doesn't buffer or translate the asynchronous byte stream the
// Decoder expects to see edge-by-edge.
func (d *Decoder) ConfigureSerial(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8

	baud := d.baudRate()
	t.Ispeed = baud
	t.Ospeed = baud
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

// baudRate derives the line rate from the card clock and current etu
// divisor (bit time = etu/clockHz, so baud = clockHz/etu).
func (d *Decoder) baudRate() uint32 {
	if d.clockHz <= 0 || d.etuDivisor <= 0 {
		return 9600
	}
	return uint32(d.clockHz / float64(d.etuDivisor))
}
