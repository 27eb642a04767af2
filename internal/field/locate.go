package field

// Locate picks the representative pixel of a detection pass: the flagged
// pixel with the greatest Y, ties broken by the greatest X. With the camera
// looking down the board this is the disc edge nearest the player. ok is
// false when nothing was flagged.
func Locate(flagged []Point) (p Point, ok bool) {
	for i, f := range flagged {
		if i == 0 || f.Y > p.Y || (f.Y == p.Y && f.X > p.X) {
			p = f
		}
	}
	return p, len(flagged) > 0
}
