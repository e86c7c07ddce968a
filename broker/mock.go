package broker

import (
	"github.com/streadway/amqp"
)

// MockConnection is a test double for Connection.
type MockConnection struct {
	MockChannel Channel
	ChannelErr  error
	CloseErr    error

	ChannelCalled bool
	CloseCalled   bool
}

func (m *MockConnection) Channel() (Channel, error) {
	m.ChannelCalled = true
	if m.ChannelErr != nil {
		return nil, m.ChannelErr
	}
	return m.MockChannel, nil
}

func (m *MockConnection) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// MockChannelT is a test double for Channel that records every call so
// tests can assert on topology declarations and published bodies.
type MockChannelT struct {
	ExchangeDeclareErr error
	QueueDeclareErr    error
	QueueBindErr       error
	PublishErr         error
	ConsumeErr         error
	CloseErr           error

	ExchangeDeclareCalled bool
	QueueDeclareCalled    bool
	QueueBindCalled       bool
	PublishCalled         bool
	ConsumeCalled         bool
	CloseCalled           bool

	DeclaredQueues  []string
	DeclaredBinds   []string // "queue<-key"
	PublishedMsgs   []amqp.Publishing
	PublishedKeys   []string
	PublishedExch   []string
	ConsumeChan     chan amqp.Delivery
	LastConsumeName string
}

func (m *MockChannelT) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	m.ExchangeDeclareCalled = true
	return m.ExchangeDeclareErr
}

func (m *MockChannelT) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.QueueDeclareCalled = true
	m.DeclaredQueues = append(m.DeclaredQueues, name)
	if m.QueueDeclareErr != nil {
		return amqp.Queue{}, m.QueueDeclareErr
	}
	return amqp.Queue{Name: name}, nil
}

func (m *MockChannelT) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	m.QueueBindCalled = true
	m.DeclaredBinds = append(m.DeclaredBinds, name+"<-"+key)
	return m.QueueBindErr
}

func (m *MockChannelT) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	m.PublishCalled = true
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.PublishedMsgs = append(m.PublishedMsgs, msg)
	m.PublishedKeys = append(m.PublishedKeys, key)
	m.PublishedExch = append(m.PublishedExch, exchange)
	return nil
}

func (m *MockChannelT) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	m.ConsumeCalled = true
	m.LastConsumeName = queue
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	if m.ConsumeChan == nil {
		m.ConsumeChan = make(chan amqp.Delivery)
	}
	return m.ConsumeChan, nil
}

func (m *MockChannelT) Qos(prefetchCount, prefetchSize int, global bool) error {
	return nil
}

func (m *MockChannelT) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// MockDialer is a test double for Dialer.
type MockDialer struct {
	MockConn *MockConnection
	DialErr  error

	DialCalled bool
	LastURL    string
}

func (m *MockDialer) Dial(url string) (Connection, error) {
	m.DialCalled = true
	m.LastURL = url
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	return m.MockConn, nil
}
