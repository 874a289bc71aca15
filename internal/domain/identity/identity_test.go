package identity_test

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/okian/claimgate/internal/domain/identity"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNormalizeAddress(t *testing.T) {
	Convey("Given wallet addresses", t, func() {
		Convey("When the address is checksummed", func() {
			got, err := identity.NormalizeAddress(" 0x52908400098527886E0F7030069857D2E4169EE7 ")

			Convey("Then it is lower-cased and trimmed", func() {
				So(err, ShouldBeNil)
				So(got, ShouldEqual, "0x52908400098527886e0f7030069857d2e4169ee7")
			})
		})

		Convey("When the address has no 0x prefix", func() {
			got, err := identity.NormalizeAddress("52908400098527886e0f7030069857d2e4169ee7")

			Convey("Then the prefix is added", func() {
				So(err, ShouldBeNil)
				So(got, ShouldEqual, "0x52908400098527886e0f7030069857d2e4169ee7")
			})
		})

		Convey("When the address is empty or malformed", func() {
			_, errEmpty := identity.NormalizeAddress("  ")
			_, errBad := identity.NormalizeAddress("0x1234")

			Convey("Then the matching sentinel is returned", func() {
				So(errEmpty, ShouldEqual, identity.ErrEmptyAddress)
				So(errBad, ShouldEqual, identity.ErrInvalidAddress)
			})
		})
	})
}

func TestOrigin(t *testing.T) {
	Convey("Given HTTP requests and the default resolver", t, func() {
		Convey("When a local proxy forwards the request", func() {
			r := httptest.NewRequest("POST", "/claim", nil)
			r.RemoteAddr = "127.0.0.1:40000"
			r.Header.Set("X-Forwarded-For", "203.0.113.7")

			Convey("Then the forwarded client is the origin", func() {
				So(identity.Origin(r), ShouldEqual, "203.0.113.7")
			})
		})

		Convey("When a remote client sends its own X-Forwarded-For", func() {
			r := httptest.NewRequest("POST", "/claim", nil)
			r.RemoteAddr = "198.51.100.2:5555"
			r.Header.Set("X-Forwarded-For", "203.0.113.7")

			Convey("Then the header is ignored", func() {
				So(identity.Origin(r), ShouldEqual, "198.51.100.2")
			})
		})

		Convey("When only RemoteAddr is available", func() {
			r := httptest.NewRequest("POST", "/claim", nil)
			r.RemoteAddr = "198.51.100.2:5555"

			Convey("Then the host part is the origin", func() {
				So(identity.Origin(r), ShouldEqual, "198.51.100.2")
			})
		})
	})

	Convey("Given a resolver trusting a proxy subnet", t, func() {
		res, err := identity.NewResolver("10.0.0.0/8", "192.0.2.10")
		So(err, ShouldBeNil)

		Convey("When the chain holds a spoofed hop before the real client", func() {
			r := httptest.NewRequest("POST", "/claim", nil)
			r.RemoteAddr = "192.0.2.10:443"
			r.Header.Set("X-Forwarded-For", "1.1.1.1, 203.0.113.7, 10.0.0.5")

			Convey("Then the nearest untrusted hop is the origin", func() {
				So(res.Origin(r), ShouldEqual, "203.0.113.7")
			})
		})

		Convey("When every hop is trusted", func() {
			r := httptest.NewRequest("POST", "/claim", nil)
			r.RemoteAddr = "10.0.0.1:443"
			r.Header.Set("X-Forwarded-For", "10.0.0.9, 10.0.0.5")

			Convey("Then the furthest hop is the origin", func() {
				So(res.Origin(r), ShouldEqual, "10.0.0.9")
			})
		})
	})

	Convey("Given resolvers at the extremes", t, func() {
		r := httptest.NewRequest("POST", "/claim", nil)
		r.RemoteAddr = "198.51.100.2:5555"
		r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

		Convey("Then trusting everyone takes the first hop", func() {
			res, err := identity.NewResolver(identity.TrustAll)
			So(err, ShouldBeNil)
			So(res.Origin(r), ShouldEqual, "203.0.113.7")
		})

		Convey("Then trusting no one always takes the peer", func() {
			res, err := identity.NewResolver()
			So(err, ShouldBeNil)
			So(res.Origin(r), ShouldEqual, "198.51.100.2")
		})

		Convey("Then a malformed entry is refused", func() {
			_, err := identity.NewResolver("10.0.0.0/99")
			So(errors.Is(err, identity.ErrInvalidProxy), ShouldBeTrue)
			_, err = identity.NewResolver("proxy.local")
			So(errors.Is(err, identity.ErrInvalidProxy), ShouldBeTrue)
		})
	})
}
