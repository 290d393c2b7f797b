package core

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Vector3 is a position or direction in region-local coordinates (metres).
type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Zero3 is the origin vector shared by spawn and reset paths.
var Zero3 = Vector3{}

// NewVector3 builds a vector from its components.
func NewVector3(x, y, z float32) Vector3 { return Vector3{X: x, Y: y, Z: z} }

// Add returns the component-wise sum of both vectors.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns the component-wise difference of both vectors.
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale multiplies every component by s.
func (v Vector3) Scale(s float32) Vector3 {
	return Vector3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Length reports the Euclidean magnitude of the vector.
func (v Vector3) Length() float64 {
	return math.Sqrt(float64(v.X)*float64(v.X) + float64(v.Y)*float64(v.Y) + float64(v.Z)*float64(v.Z))
}

// DistanceTo reports the Euclidean distance between two points.
func (v Vector3) DistanceTo(o Vector3) float64 { return v.Sub(o).Length() }

func (v Vector3) String() string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f)", v.X, v.Y, v.Z)
}

// Quaternion carries a rotation in viewer wire order (x, y, z, w).
type Quaternion struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

// IdentityQuat is the no-rotation quaternion.
var IdentityQuat = Quaternion{W: 1}

// NewQuaternion builds a quaternion from its components.
func NewQuaternion(x, y, z, w float32) Quaternion { return Quaternion{X: x, Y: y, Z: z, W: w} }

// UserID identifies an agent account across sessions.
type UserID struct {
	uuid.UUID
}

// NewUserID mints a random user identifier.
func NewUserID() UserID { return UserID{UUID: uuid.New()} }

// UserIDFromBytes parses a 16-byte wire representation.
func UserIDFromBytes(raw []byte) (UserID, error) {
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return UserID{}, fmt.Errorf("user id: %w", err)
	}
	return UserID{UUID: id}, nil
}

// IsZero reports whether the identifier is the nil UUID.
func (u UserID) IsZero() bool { return u.UUID == uuid.Nil }

// RegionID identifies a simulated region.
type RegionID struct {
	uuid.UUID
}

// NewRegionID mints a random region identifier.
func NewRegionID() RegionID { return RegionID{UUID: uuid.New()} }

// SessionID identifies one viewer session grant.
type SessionID = uuid.UUID

// NewSessionID mints a random session identifier.
func NewSessionID() SessionID { return uuid.New() }

// SessionIDFromBytes parses a 16-byte wire representation.
func SessionIDFromBytes(raw []byte) (SessionID, error) {
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("session id: %w", err)
	}
	return id, nil
}
