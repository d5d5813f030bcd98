package ordersclient

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Wire schema of the order authority, equivalent to:
//
//	syntax = "proto3";
//	package orders;
//
//	message Order {
//	  int64 id = 1;
//	  string user_id = 2;
//	  optional string partner_id = 3;
//	}
//	message GetOrderByIdRequest { int64 order_id = 1; }
//	message GetOrderByIdResponse { Order order = 1; }
//
//	service OrdersService {
//	  rpc GetOrderById(GetOrderByIdRequest) returns (GetOrderByIdResponse);
//	}
const (
	ServiceName        = "orders.OrdersService"
	GetOrderByIDRPC    = "GetOrderById"
	GetOrderByIDMethod = "/" + ServiceName + "/" + GetOrderByIDRPC
)

type schema struct {
	request  protoreflect.MessageDescriptor
	response protoreflect.MessageDescriptor
	order    protoreflect.MessageDescriptor

	reqOrderID     protoreflect.FieldDescriptor
	respOrder      protoreflect.FieldDescriptor
	orderID        protoreflect.FieldDescriptor
	orderUserID    protoreflect.FieldDescriptor
	orderPartnerID protoreflect.FieldDescriptor
}

var ordersSchema = mustBuildSchema()

func mustBuildSchema() *schema {
	s, err := buildSchema()
	if err != nil {
		panic(fmt.Sprintf("ordersclient: build schema: %v", err))
	}
	return s
}

func buildSchema() (*schema, error) {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	int64Type := descriptorpb.FieldDescriptorProto_TYPE_INT64
	stringType := descriptorpb.FieldDescriptorProto_TYPE_STRING
	messageType := descriptorpb.FieldDescriptorProto_TYPE_MESSAGE

	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("orders.proto"),
		Package: proto.String("orders"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Order"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("id"), JsonName: proto.String("id"), Number: proto.Int32(1), Label: &optional, Type: &int64Type},
					{Name: proto.String("user_id"), JsonName: proto.String("userId"), Number: proto.Int32(2), Label: &optional, Type: &stringType},
					{
						Name:           proto.String("partner_id"),
						JsonName:       proto.String("partnerId"),
						Number:         proto.Int32(3),
						Label:          &optional,
						Type:           &stringType,
						OneofIndex:     proto.Int32(0),
						Proto3Optional: proto.Bool(true),
					},
				},
				OneofDecl: []*descriptorpb.OneofDescriptorProto{
					{Name: proto.String("_partner_id")},
				},
			},
			{
				Name: proto.String("GetOrderByIdRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("order_id"), JsonName: proto.String("orderId"), Number: proto.Int32(1), Label: &optional, Type: &int64Type},
				},
			},
			{
				Name: proto.String("GetOrderByIdResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("order"), JsonName: proto.String("order"), Number: proto.Int32(1), Label: &optional, Type: &messageType, TypeName: proto.String(".orders.Order")},
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("OrdersService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String(GetOrderByIDRPC),
						InputType:  proto.String(".orders.GetOrderByIdRequest"),
						OutputType: proto.String(".orders.GetOrderByIdResponse"),
					},
				},
			},
		},
	}

	fd, err := protodesc.NewFile(fdp, new(protoregistry.Files))
	if err != nil {
		return nil, err
	}

	msgs := fd.Messages()
	order := msgs.ByName("Order")
	req := msgs.ByName("GetOrderByIdRequest")
	resp := msgs.ByName("GetOrderByIdResponse")

	return &schema{
		request:        req,
		response:       resp,
		order:          order,
		reqOrderID:     req.Fields().ByName("order_id"),
		respOrder:      resp.Fields().ByName("order"),
		orderID:        order.Fields().ByName("id"),
		orderUserID:    order.Fields().ByName("user_id"),
		orderPartnerID: order.Fields().ByName("partner_id"),
	}, nil
}
