package types

import "fmt"

// ParticleType identifies the server side storage type of a value.
type ParticleType uint8

const (
	ParticleNull    ParticleType = 0
	ParticleInteger ParticleType = 1
	ParticleFloat   ParticleType = 2
	ParticleString  ParticleType = 3
	ParticleBlob    ParticleType = 4
	ParticleDigest  ParticleType = 6
	ParticleHLL     ParticleType = 18
	ParticleMap     ParticleType = 19
	ParticleList    ParticleType = 20
	ParticleLDT     ParticleType = 21
	ParticleGeoJSON ParticleType = 23
)

// String returns the protocol name of the particle type
func (p ParticleType) String() string {
	switch p {
	case ParticleNull:
		return "null"
	case ParticleInteger:
		return "integer"
	case ParticleFloat:
		return "float"
	case ParticleString:
		return "string"
	case ParticleBlob:
		return "blob"
	case ParticleDigest:
		return "digest"
	case ParticleHLL:
		return "hll"
	case ParticleMap:
		return "map"
	case ParticleList:
		return "list"
	case ParticleLDT:
		return "ldt"
	case ParticleGeoJSON:
		return "geojson"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}
