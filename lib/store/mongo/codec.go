package mongo

import (
	"fmt"
	"reflect"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var tDecimal = reflect.TypeOf(decimal.Decimal{})

// registry returns the default bson registry plus the decimal codec.
func registry() *bsoncodec.Registry {
	rb := bson.NewRegistryBuilder()
	rb.RegisterTypeEncoder(tDecimal, bsoncodec.ValueEncoderFunc(encodeDecimal))
	rb.RegisterTypeDecoder(tDecimal, bsoncodec.ValueDecoderFunc(decodeDecimal))

	return rb.Build()
}

func encodeDecimal(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != tDecimal {
		return bsoncodec.ValueEncoderError{Name: "encodeDecimal", Types: []reflect.Type{tDecimal}, Received: val}
	}

	d, err := primitive.ParseDecimal128(val.Interface().(decimal.Decimal).String())
	if err != nil {
		return fmt.Errorf("cannot encode decimal: %w", err)
	}

	return vw.WriteDecimal128(d)
}

// decodeDecimal also reads numbers and strings so that documents written by other tools can be loaded.
func decodeDecimal(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != tDecimal {
		return bsoncodec.ValueDecoderError{Name: "decodeDecimal", Types: []reflect.Type{tDecimal}, Received: val}
	}

	var (
		d   decimal.Decimal
		err error
	)

	switch vr.Type() {
	case bsontype.Decimal128:
		var v primitive.Decimal128
		if v, err = vr.ReadDecimal128(); err == nil {
			d, err = decimal.NewFromString(v.String())
		}
	case bsontype.Double:
		var f float64
		if f, err = vr.ReadDouble(); err == nil {
			d = decimal.NewFromFloat(f)
		}
	case bsontype.Int32:
		var i int32
		if i, err = vr.ReadInt32(); err == nil {
			d = decimal.NewFromInt32(i)
		}
	case bsontype.Int64:
		var i int64
		if i, err = vr.ReadInt64(); err == nil {
			d = decimal.NewFromInt(i)
		}
	case bsontype.String:
		var s string
		if s, err = vr.ReadString(); err == nil {
			d, err = decimal.NewFromString(s)
		}
	case bsontype.Null:
		err = vr.ReadNull()
	default:
		return fmt.Errorf("cannot decode bson type %s into decimal", vr.Type())
	}

	if err != nil {
		return err
	}

	val.Set(reflect.ValueOf(d))

	return nil
}
