// Package pipeline описывает медиа конвейер на границе с подсистемой телеметрии.
//
// Это не движок обработки медиа: элементы здесь не передают буферы, а только
// несут имя, фабрику, свойства и состояние, чего достаточно для обнаружения
// динамически создаваемых объектов, наблюдения за жизненным циклом и
// построения снимка топологии.
//
// Основные типы:
//   - Signal: таблица регистрации обработчиков одного вида событий
//   - Element, Bin, Pipeline: дерево объектов конвейера и связи между ними
//   - Bus: очередь сообщений о смене состояния, EOS и ошибках
//
// Сигналы вызывают обработчики синхронно, в порядке регистрации, на том
// потоке, который породил событие. Отписка выполняется явно через Disconnect,
// в том числе изнутри самого обработчика.
package pipeline
